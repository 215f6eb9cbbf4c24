package vm

// A Tracer observes paging activity. All callbacks run synchronously
// on the emulation thread and must not touch the VMM re-entrantly.
// Tracing is purely observational and never affects control flow.
type Tracer interface {
	// PageIn fires after a page has been brought into a cache slot.
	// zeroFill is true when the page had no backing bytes.
	PageIn(page uint32, slot int, zeroFill bool)

	// PageOut fires after a dirty slot has been flushed to the
	// scratch file at the given block offset.
	PageOut(page uint32, backingOffset uint32)

	// Fault fires when an access fails. reason is one of
	// "out-of-range", "read-protection", "write-protection", or
	// "exec-protection".
	Fault(va uint32, reason string)
}
