package vm

import (
	"os"

	"github.com/rs/xid"
)

// A TempFiler provisions the private scratch file modified pages are
// flushed to. It is invoked at most once per VMM, lazily on the first
// page-out.
type TempFiler interface {
	// CreateTemp returns a fresh, exclusively-owned writable file
	// and its path. The VMM owns the file and removes it at
	// teardown.
	CreateTemp() (*os.File, string, error)
}

// osTempFiler provisions scratch files in the OS temp directory.
type osTempFiler struct{}

func (osTempFiler) CreateTemp() (*os.File, string, error) {
	f, err := os.CreateTemp("", "peemu-vmm-"+xid.New().String())
	if err != nil {
		return nil, "", err
	}

	return f, f.Name(), nil
}
