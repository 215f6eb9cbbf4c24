// Package vm implements the virtual memory manager that backs the PE
// emulator. It maps an image's section layout onto a page table,
// serves byte-granular reads and writes through a small fixed page
// cache, and spills modified pages to a private scratch file so the
// original input is never touched.
//
// A VMM is single-threaded by contract: one emulation context drives
// one instance, so no internal locking exists.
package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// VMM is the virtual address space of one emulated image.
type VMM struct {
	pages []pageEntry
	cache [numSlots]cachedPage

	// evictCursor rotates round-robin over the cache slots. The next
	// page-in always claims the slot under the cursor.
	evictCursor int

	// One-entry fast path for repeated access to the same page.
	// Invalid while lastSlot is negative.
	lastPage uint32
	lastSlot int

	imageBase uint32

	// input is borrowed and must outlive the VMM.
	input io.ReaderAt

	tempFiler   TempFiler
	scratch     *os.File
	scratchPath string

	// scratchBlocks is the next free offset in the scratch file, in
	// blockSize units.
	scratchBlocks uint32

	log    logrus.FieldLogger
	tracer Tracer
	closed bool
}

func (v *VMM) pageCount() uint32 {
	return uint32(len(v.pages))
}

// ImageBase returns the preferred load address of the image.
func (v *VMM) ImageBase() uint32 {
	return v.imageBase
}

// Size returns the byte length of the mapped address range.
func (v *VMM) Size() uint32 {
	return v.pageCount() * PageSize
}

// translate resolves a virtual address to the cache slot holding its
// page, paging in as needed.
func (v *VMM) translate(va uint32) (*cachedPage, error) {
	page := va / PageSize

	if v.lastSlot >= 0 && v.lastPage == page {
		return &v.cache[v.lastSlot], nil
	}

	if page >= v.pageCount() {
		return nil, fmt.Errorf("va 0x%08x beyond 0x%08x: %w",
			va, v.Size(), ErrOutOfRange)
	}

	p := &v.pages[page]
	if p.cacheSlot != noSlot {
		slot := int(p.cacheSlot) - 1
		v.lastPage, v.lastSlot = page, slot
		return &v.cache[slot], nil
	}

	// Bring the next page in first so multi-byte accesses that
	// straddle the page boundary stay on the fast path. Best-effort:
	// its failure must not fail this access.
	if next := page + 1; next < v.pageCount() &&
		v.pages[next].cacheSlot == noSlot {
		if _, err := v.pageIn(next); err != nil {
			v.log.WithError(err).WithField("page", next).
				Debug("adjacent page-in failed")
		}
	}

	slot, err := v.pageIn(page)
	if err != nil {
		return nil, err
	}

	v.lastPage, v.lastSlot = page, slot

	return &v.cache[slot], nil
}

// pageIn brings a page into the cache slot under the eviction cursor,
// flushing the slot's previous tenant first if it is dirty.
func (v *VMM) pageIn(page uint32) (int, error) {
	slot := v.evictCursor
	v.evictCursor++
	if v.evictCursor >= numSlots {
		v.evictCursor = 0
	}

	c := &v.cache[slot]
	if c.valid {
		owner := &v.pages[c.owner]
		if c.dirty {
			v.pageOut(c, owner)
		}
		owner.cacheSlot = noSlot
		if v.lastSlot == slot {
			v.lastSlot = -1
		}
	}

	p := &v.pages[page]
	c.perm = p.perm
	c.dirty = false
	c.owner = page
	c.valid = true
	p.cacheSlot = uint8(slot) + 1

	// Zero first: the backing store may legitimately come up short
	// when a section's raw tail is smaller than its virtual extent.
	c.data = [PageSize]byte{}

	if p.hasData {
		src := v.input
		store := "input"
		if p.modified {
			src = v.scratch
			store = "scratch"
		}

		off := int64(p.backingOffset) * blockSize
		if _, err := src.ReadAt(c.data[:], off); err != nil &&
			!errors.Is(err, io.EOF) {
			// Detach the slot so a half-filled buffer never becomes
			// the page's authoritative content.
			p.cacheSlot = noSlot
			c.valid = false
			v.log.WithError(err).Warnf(
				"page-in read from %s failed at 0x%x", store, off)

			return 0, fmt.Errorf("page-in from %s at 0x%x: %w",
				store, off, err)
		}
	}

	if v.tracer != nil {
		v.tracer.PageIn(page, slot, !p.hasData)
	}

	return slot, nil
}

// pageOut flushes a dirty slot to the scratch file. The page's logical
// state advances even when the write fails; the failure is surfaced as
// a diagnostic only.
func (v *VMM) pageOut(c *cachedPage, p *pageEntry) {
	p.hasData = true

	if !p.modified {
		p.modified = true

		if v.scratch == nil {
			f, path, err := v.tempFiler.CreateTemp()
			if err != nil {
				v.log.WithError(err).Warn("cannot create scratch file")
				return
			}
			v.scratch, v.scratchPath = f, path
		}

		if v.scratchBlocks+blocksPerPage > maxBackingBlocks {
			v.log.Warnf("scratch file full at block 0x%x", v.scratchBlocks)
			return
		}

		p.backingOffset = v.scratchBlocks
		v.scratchBlocks += blocksPerPage
	}

	off := int64(p.backingOffset) * blockSize
	if _, err := v.scratch.WriteAt(c.data[:], off); err != nil {
		v.log.WithError(err).Warnf("page-out write failed at 0x%x", off)
		return
	}

	if v.tracer != nil {
		v.tracer.PageOut(c.owner, p.backingOffset)
	}
}

func (v *VMM) fault(va uint32, reason string) {
	if v.tracer != nil {
		v.tracer.Fault(va, reason)
	}
}

// read copies len(dst) bytes starting at va, requiring need on every
// page touched. It never short-reads: the copy either completes or the
// call fails.
func (v *VMM) read(va uint32, dst []byte, need Perm) error {
	reason := "read-protection"
	if need == PermExec {
		reason = "exec-protection"
	}

	for len(dst) > 0 {
		c, err := v.translate(va)
		if err != nil {
			v.fault(va, "out-of-range")
			return fmt.Errorf("vmm read at 0x%08x: %w", va, err)
		}
		if !c.perm.Has(need) {
			v.fault(va, reason)
			return fmt.Errorf("vmm read at 0x%08x: %w", va, ErrNoPerm)
		}

		n := copy(dst, c.data[va&pageMask:])
		dst = dst[n:]
		va += uint32(n)
	}

	return nil
}

// ReadR reads len(buf) bytes at va, requiring read permission.
func (v *VMM) ReadR(va uint32, buf []byte) error {
	return v.read(va, buf, PermRead)
}

// ReadX reads len(buf) bytes at va, requiring execute permission. The
// interpreter fetches instructions through this.
func (v *VMM) ReadX(va uint32, buf []byte) error {
	return v.read(va, buf, PermExec)
}

// Read8 reads one byte at va.
func (v *VMM) Read8(va uint32) (uint8, error) {
	var b [1]byte
	if err := v.read(va, b[:], PermRead); err != nil {
		return 0, err
	}

	return b[0], nil
}

// Read16 reads a little-endian 16-bit value at va.
func (v *VMM) Read16(va uint32) (uint16, error) {
	var b [2]byte
	if err := v.read(va, b[:], PermRead); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b[:]), nil
}

// Read32 reads a little-endian 32-bit value at va.
func (v *VMM) Read32(va uint32) (uint32, error) {
	var b [4]byte
	if err := v.read(va, b[:], PermRead); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}

// Write copies data into the address space at va, requiring write
// permission on every page touched. Bytes written before a failure are
// not rolled back.
func (v *VMM) Write(va uint32, data []byte) error {
	for len(data) > 0 {
		c, err := v.translate(va)
		if err != nil {
			v.fault(va, "out-of-range")
			return fmt.Errorf("vmm write at 0x%08x: %w", va, err)
		}
		if !c.perm.Has(PermWrite) {
			v.fault(va, "write-protection")
			return fmt.Errorf("vmm write at 0x%08x: %w", va, ErrNoPerm)
		}

		n := copy(c.data[va&pageMask:], data)
		c.dirty = true
		data = data[n:]
		va += uint32(n)
	}

	return nil
}

// Write8 writes one byte at va.
func (v *VMM) Write8(va uint32, value uint8) error {
	return v.Write(va, []byte{value})
}

// Write16 writes a little-endian 16-bit value at va.
func (v *VMM) Write16(va uint32, value uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], value)

	return v.Write(va, b[:])
}

// Write32 writes a little-endian 32-bit value at va.
func (v *VMM) Write32(va uint32, value uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], value)

	return v.Write(va, b[:])
}

// Perms returns the permission set of the page containing va, straight
// from the page table.
func (v *VMM) Perms(va uint32) (Perm, error) {
	page := va / PageSize
	if page >= v.pageCount() {
		return PermNone, fmt.Errorf("perms at 0x%08x: %w", va, ErrOutOfRange)
	}

	return v.pages[page].perm, nil
}

// SetPerms replaces the permission set of every page the range
// [va, va+length) covers. Granting permissions on a page the layout
// never mapped is how new regions (stack, heap) come into existence:
// unmapped pages are zero-fill, so they only need permissions to
// become usable. Cached snapshots are not updated; a change takes
// effect when the page is next brought into the cache.
func (v *VMM) SetPerms(va, length uint32, p Perm) error {
	if length == 0 {
		length = 1
	}

	first := va / PageSize
	last := (va + length - 1) / PageSize
	if first >= v.pageCount() || last >= v.pageCount() {
		return fmt.Errorf("set perms at 0x%08x+0x%x: %w",
			va, length, ErrOutOfRange)
	}

	for page := first; page <= last; page++ {
		v.pages[page].perm = p
	}

	return nil
}

// Close tears the VMM down: the scratch file, if one was ever created,
// is truncated, closed, and removed so no trace of emulation remains
// on disk. Close is idempotent and safe on a nil receiver.
func (v *VMM) Close() error {
	if v == nil || v.closed {
		return nil
	}
	v.closed = true

	var firstErr error
	if v.scratch != nil {
		if err := v.scratch.Truncate(0); err != nil {
			firstErr = err
		}
		if err := v.scratch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := os.Remove(v.scratchPath); err != nil && firstErr == nil {
			firstErr = err
		}
		v.scratch = nil
	}

	v.pages = nil
	v.lastSlot = -1

	if firstErr != nil {
		v.log.WithError(firstErr).Warn("scratch file teardown failed")
	}

	return firstErr
}
