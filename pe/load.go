package pe

import (
	debugpe "debug/pe"
	"errors"
	"fmt"
	"io"
)

// ErrPE32Plus is returned when an image is 64-bit. The emulator only
// models 32-bit address spaces.
var ErrPE32Plus = errors.New("PE32+ images are not supported")

// Load parses a PE container and extracts the image description the
// memory manager consumes.
func Load(r io.ReaderAt) (*Image, error) {
	f, err := debugpe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("parse PE container: %w", err)
	}
	defer f.Close()

	opt, ok := f.OptionalHeader.(*debugpe.OptionalHeader32)
	if !ok {
		return nil, ErrPE32Plus
	}

	img := &Image{
		Info: ImageInfo{
			Machine:          Machine(f.FileHeader.Machine),
			Magic:            opt.Magic,
			ImageBase:        opt.ImageBase,
			SectionAlignment: opt.SectionAlignment,
			FileAlignment:    opt.FileAlignment,
		},
	}

	for _, s := range f.Sections {
		img.Sections = append(img.Sections, Section{
			Name:            s.Name,
			VirtualAddr:     s.VirtualAddress,
			VirtualSize:     s.VirtualSize,
			Raw:             s.Offset,
			RawSize:         s.Size,
			Characteristics: Characteristics(s.Characteristics),
		})
	}

	return img, nil
}
