package vm

const (
	// PageSize is the unit of virtual address space management.
	PageSize = 4096

	// blockSize is the unit backing offsets are stored in. Raw
	// section offsets are expected to be aligned to it.
	blockSize = 512

	blocksPerPage = PageSize / blockSize

	// maxBackingBlocks bounds the backing offset of a page. The
	// on-disk addressing scheme only spans 23 bits of 512-byte
	// blocks (4 GiB of backing storage).
	maxBackingBlocks = 1 << 23

	pageMask = PageSize - 1
)

// noSlot marks a page as not present in the page cache.
const noSlot = 0

// A pageEntry is the per-page metadata the address translator works
// from. One entry exists for every page of the image's virtual extent.
type pageEntry struct {
	// backingOffset locates the page's bytes in its backing store,
	// in blockSize units. Only meaningful when hasData is set.
	backingOffset uint32

	perm Perm

	// modified selects the backing store: false reads from the
	// original input file, true from the private scratch file.
	modified bool

	// hasData distinguishes pages with real backing bytes from
	// zero-fill pages.
	hasData bool

	// cacheSlot is the page's current cache slot plus one, or
	// noSlot when the page is not cached. While a page is cached the
	// slot content is authoritative over the backing store.
	cacheSlot uint8
}
