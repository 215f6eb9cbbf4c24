package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/scanforge/peemu/pe"
	"github.com/scanforge/peemu/vm"
)

// mapFile parses a PE image and builds its address space. The returned
// file backs the VMM and must stay open until the VMM is closed.
func mapFile(path string, opts ...func(vm.Builder) vm.Builder) (*vm.VMM, *os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	img, err := pe.Load(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	b := vm.MakeBuilder().
		WithImage(img.Info).
		WithSections(img.Sections).
		WithInput(f).
		WithLogger(logrus.StandardLogger())
	for _, opt := range opts {
		b = opt(b)
	}

	v, err := b.Build()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	return v, f, nil
}
