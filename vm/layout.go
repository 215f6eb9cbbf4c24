package vm

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/scanforge/peemu/pe"
)

// sectionPerm maps section characteristics to a page permission set.
func sectionPerm(c pe.Characteristics) Perm {
	var p Perm
	if c&pe.ScnMemRead != 0 {
		p |= PermRead
	}
	if c&pe.ScnMemWrite != 0 {
		p |= PermWrite
	}
	if c&pe.ScnMemExecute != 0 {
		p |= PermExec
	}

	return p
}

// mapImage populates the page table from the image's section layout.
// It runs once, at construction.
func (v *VMM) mapImage(info pe.ImageInfo, sections []pe.Section) error {
	if !info.Machine.IsX86() {
		return fmt.Errorf("machine type 0x%x: %w",
			uint16(info.Machine), ErrUnsupportedImage)
	}

	// Many real-world images carry mildly non-conformant alignment
	// values. Mapping accuracy is best-effort there, so only warn.
	if info.SectionAlignment < PageSize &&
		info.FileAlignment != info.SectionAlignment {
		v.log.Warnf("file/section alignment mismatch, "+
			"mapping may be incorrect: %d != %d",
			info.FileAlignment, info.SectionAlignment)
	}
	if info.FileAlignment < blockSize {
		v.log.Warnf("file alignment too small: %d, "+
			"mapping may be incorrect", info.FileAlignment)
	}

	// Header pages sit below the first section: read-only, backed by
	// the input file at their natural offset.
	for i := uint32(0); i*PageSize < sections[0].VirtualAddr; i++ {
		if i >= v.pageCount() {
			return fmt.Errorf("header extends beyond image extent: %w",
				ErrBadLayout)
		}
		v.pages[i].backingOffset = i * blocksPerPage
		v.pages[i].perm = PermRead
		v.pages[i].hasData = true
	}

	for i, s := range sections {
		if i > 0 {
			prev := sections[i-1]
			if prev.VirtualAddr+prev.VirtualSize != s.VirtualAddr {
				return fmt.Errorf(
					"section %q: holes, overlap, or virtual disorder: %w",
					s.Name, ErrBadLayout)
			}
		}

		zeroFill := s.Characteristics.IsZeroFill()
		perm := sectionPerm(s.Characteristics)
		nPages := (s.VirtualSize + PageSize - 1) / PageSize

		for j := uint32(0); j < nPages; j++ {
			page := s.VirtualAddr/PageSize + j
			if page >= v.pageCount() {
				return fmt.Errorf(
					"section %q: rva 0x%x out of range: %w",
					s.Name, page*PageSize, ErrBadLayout)
			}

			p := &v.pages[page]
			p.hasData = !zeroFill
			if !zeroFill {
				off := (s.Raw + j*PageSize) / blockSize
				if off >= maxBackingBlocks {
					return fmt.Errorf(
						"section %q: raw offset 0x%x beyond addressable backing: %w",
						s.Name, s.Raw, ErrBadLayout)
				}
				p.backingOffset = off
			}

			// A page can belong to more than one section's nominal
			// range, so permissions accumulate.
			p.perm |= perm
		}

		v.log.WithFields(logrus.Fields{
			"section": s.Name,
			"rva":     fmt.Sprintf("0x%08x", s.VirtualAddr),
			"raw":     fmt.Sprintf("0x%08x", s.Raw),
			"pages":   nPages,
			"perm":    perm.String(),
		}).Debug("mapped section")
	}

	return nil
}
