package vm

import "errors"

// Errors reported by construction and by the accessor API. Accessor
// failures wrap ErrOutOfRange or ErrNoPerm so the emulator can model
// unmapped-memory and protection faults distinctly.
var (
	// ErrUnsupportedImage rejects images the emulator cannot model:
	// PE32+, non-x86 machine types, or images with no sections.
	ErrUnsupportedImage = errors.New("unsupported image")

	// ErrBadLayout rejects images whose sections do not form a
	// contiguous virtual layout or point outside the image extent.
	ErrBadLayout = errors.New("malformed section layout")

	// ErrOutOfRange fails accesses beyond the mapped address range.
	ErrOutOfRange = errors.New("address out of range")

	// ErrNoPerm fails accesses the page's permission set excludes.
	ErrNoPerm = errors.New("permission denied")
)
