package recording

// A PagingTracer records page-cache activity into a Recorder. It
// implements the vm package's Tracer interface.
type PagingTracer struct {
	rec Recorder
	seq int64
}

// pagingEntry is one row of the paging table.
type pagingEntry struct {
	Seq           int64
	Event         string
	Page          uint32
	Slot          int32
	BackingOffset uint32
	VA            uint32
	Reason        string
}

const pagingTable = "paging"

// NewPagingTracer creates a PagingTracer and its backing table.
func NewPagingTracer(rec Recorder) *PagingTracer {
	rec.CreateTable(pagingTable, pagingEntry{})

	return &PagingTracer{rec: rec}
}

// PageIn records a page being brought into the cache.
func (t *PagingTracer) PageIn(page uint32, slot int, zeroFill bool) {
	event := "page-in"
	if zeroFill {
		event = "page-in-zero"
	}

	t.insert(pagingEntry{Event: event, Page: page, Slot: int32(slot)})
}

// PageOut records a dirty page being flushed to the scratch file.
func (t *PagingTracer) PageOut(page uint32, backingOffset uint32) {
	t.insert(pagingEntry{
		Event:         "page-out",
		Page:          page,
		Slot:          -1,
		BackingOffset: backingOffset,
	})
}

// Fault records a failed access.
func (t *PagingTracer) Fault(va uint32, reason string) {
	t.insert(pagingEntry{
		Event:  "fault",
		Slot:   -1,
		VA:     va,
		Reason: reason,
	})
}

func (t *PagingTracer) insert(e pagingEntry) {
	t.seq++
	e.Seq = t.seq
	t.rec.Insert(pagingTable, e)
}
