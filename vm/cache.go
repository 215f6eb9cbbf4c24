package vm

// numSlots is the fixed capacity of the page cache. Replacement walks
// the slots round-robin, so cache pressure only ever costs extra I/O,
// never allocation.
const numSlots = 15

// A cachedPage is one slot of the page cache: the page's bytes plus a
// snapshot of its permissions taken at page-in time.
type cachedPage struct {
	data [PageSize]byte
	perm Perm

	// dirty is set while the slot has been written since page-in and
	// not yet flushed to the scratch file.
	dirty bool

	// owner is the page number the slot currently holds. Only
	// meaningful while valid is set.
	owner uint32
	valid bool
}
