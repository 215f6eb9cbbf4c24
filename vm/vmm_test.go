package vm

import (
	"bytes"
	"errors"
	"io"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"
	"go.uber.org/mock/gomock"

	"github.com/scanforge/peemu/pe"
)

// The test image: one header page, two data-bearing sections, and a
// large zero-fill section so eviction tests can touch more pages than
// the cache holds.
//
//	page 0x00          header, r--
//	pages 0x01-0x02    .text at raw 0x400, r-x
//	page  0x03         .data at raw 0x2400, rw-
//	pages 0x04-0x23    .bss, zero-fill, rw-
const testImagePages = 0x24

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}

func testFileBytes() []byte {
	data := make([]byte, 0x3400)
	for i := range data {
		data[i] = byte(i % 251)
	}

	return data
}

func testImage() (pe.ImageInfo, []pe.Section) {
	info := pe.ImageInfo{
		Machine:          pe.MachineI386,
		Magic:            pe.MagicPE32,
		ImageBase:        0x400000,
		SectionAlignment: 0x1000,
		FileAlignment:    0x200,
	}
	sections := []pe.Section{
		{
			Name:            ".text",
			VirtualAddr:     0x1000,
			VirtualSize:     0x2000,
			Raw:             0x400,
			RawSize:         0x2000,
			Characteristics: pe.ScnMemRead | pe.ScnMemExecute,
		},
		{
			Name:            ".data",
			VirtualAddr:     0x3000,
			VirtualSize:     0x1000,
			Raw:             0x2400,
			RawSize:         0x1000,
			Characteristics: pe.ScnMemRead | pe.ScnMemWrite,
		},
		{
			Name:        ".bss",
			VirtualAddr: 0x4000,
			VirtualSize: 0x20000,
			Characteristics: pe.ScnMemRead | pe.ScnMemWrite |
				pe.ScnCntUninitializedData,
		},
	}

	return info, sections
}

type erroringReaderAt struct{}

func (erroringReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("injected read failure")
}

var _ = Describe("VMM", func() {
	var (
		mockCtrl  *gomock.Controller
		tempFiler *MockTempFiler
		fileBytes []byte
		v         *VMM
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		tempFiler = NewMockTempFiler(mockCtrl)
		fileBytes = testFileBytes()

		info, sections := testImage()
		var err error
		v, err = MakeBuilder().
			WithImage(info).
			WithSections(sections).
			WithInput(bytes.NewReader(fileBytes)).
			WithLogger(testLogger()).
			WithTempFiler(tempFiler).
			Build()
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		Expect(v.Close()).To(Succeed())
		mockCtrl.Finish()
	})

	// The scratch file only comes into existence when a dirty page is
	// first flushed, so most write tests never trigger it.
	expectScratch := func() string {
		f, err := os.CreateTemp(GinkgoT().TempDir(), "vmm-scratch-*")
		Expect(err).ToNot(HaveOccurred())
		tempFiler.EXPECT().CreateTemp().Return(f, f.Name(), nil).MaxTimes(1)

		return f.Name()
	}

	It("should size the address space from the last section", func() {
		Expect(v.Size()).To(Equal(uint32(testImagePages * PageSize)))
		Expect(v.ImageBase()).To(Equal(uint32(0x400000)))
	})

	It("should read header bytes from the start of the file", func() {
		buf := make([]byte, 16)
		Expect(v.ReadR(0x0, buf)).To(Succeed())
		Expect(buf).To(Equal(fileBytes[:16]))
	})

	It("should read section bytes from their raw offsets", func() {
		buf := make([]byte, 8)
		Expect(v.ReadR(0x1000, buf)).To(Succeed())
		Expect(buf).To(Equal(fileBytes[0x400:0x408]))

		Expect(v.ReadR(0x3010, buf)).To(Succeed())
		Expect(buf).To(Equal(fileBytes[0x2410:0x2418]))
	})

	It("should fetch code through the execute permission", func() {
		buf := make([]byte, 4)
		Expect(v.ReadX(0x2000, buf)).To(Succeed())
		Expect(buf).To(Equal(fileBytes[0x1400:0x1404]))
	})

	It("should read uninitialized pages as zero", func() {
		buf := make([]byte, 64)
		Expect(v.ReadR(0x4000, buf)).To(Succeed())
		Expect(buf).To(Equal(make([]byte, 64)))
	})

	It("should reject reads beyond the mapped range", func() {
		buf := make([]byte, 1)
		err := v.ReadR(uint32(testImagePages*PageSize), buf)
		Expect(err).To(MatchError(ErrOutOfRange))
	})

	It("should serve the last byte of the highest page", func() {
		buf := make([]byte, 1)
		Expect(v.ReadR(uint32(testImagePages*PageSize)-1, buf)).To(Succeed())
		Expect(buf[0]).To(BeZero())
	})

	It("should refuse writes to read-execute pages", func() {
		err := v.Write8(0x1000, 0xCC)
		Expect(err).To(MatchError(ErrNoPerm))

		// The patch must not have landed.
		b, readErr := v.Read8(0x1000)
		Expect(readErr).ToNot(HaveOccurred())
		Expect(b).To(Equal(fileBytes[0x400]))
	})

	It("should refuse execute fetches from data pages", func() {
		buf := make([]byte, 4)
		Expect(v.ReadX(0x3000, buf)).To(MatchError(ErrNoPerm))
	})

	It("should reject every access once permissions are cleared", func() {
		Expect(v.SetPerms(0x4000, PageSize, PermNone)).To(Succeed())

		buf := make([]byte, 1)
		Expect(v.ReadR(0x4000, buf)).To(MatchError(ErrNoPerm))
		Expect(v.ReadX(0x4000, buf)).To(MatchError(ErrNoPerm))
		Expect(v.Write(0x4000, buf)).To(MatchError(ErrNoPerm))
	})

	It("should round-trip writes", func() {
		expectScratch()

		Expect(v.Write(0x4100, []byte("sample"))).To(Succeed())

		buf := make([]byte, 6)
		Expect(v.ReadR(0x4100, buf)).To(Succeed())
		Expect(buf).To(Equal([]byte("sample")))
	})

	It("should store scalars little-endian", func() {
		expectScratch()

		Expect(v.Write32(0x4000, 0x11223344)).To(Succeed())

		b, err := v.Read8(0x4000)
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(Equal(uint8(0x44)))

		h, err := v.Read16(0x4000)
		Expect(err).ToNot(HaveOccurred())
		Expect(h).To(Equal(uint16(0x3344)))

		w, err := v.Read32(0x4000)
		Expect(err).ToNot(HaveOccurred())
		Expect(w).To(Equal(uint32(0x11223344)))
	})

	It("should handle accesses that straddle a page boundary", func() {
		expectScratch()

		Expect(v.Write32(0x4FFE, 0xAABBCCDD)).To(Succeed())

		w, err := v.Read32(0x4FFE)
		Expect(err).ToNot(HaveOccurred())
		Expect(w).To(Equal(uint32(0xAABBCCDD)))

		// Same bytes through two same-page accesses.
		lo, err := v.Read16(0x4FFE)
		Expect(err).ToNot(HaveOccurred())
		hi, err := v.Read16(0x5000)
		Expect(err).ToNot(HaveOccurred())
		Expect(lo).To(Equal(uint16(0xCCDD)))
		Expect(hi).To(Equal(uint16(0xAABB)))
	})

	It("should survive eviction of written pages", func() {
		expectScratch()

		// Touch more pages than the cache holds.
		for i := uint32(0); i < 20; i++ {
			va := 0x4000 + i*PageSize
			Expect(v.Write32(va, 0xCAFE0000+i)).To(Succeed())
		}

		for i := uint32(0); i < 20; i++ {
			va := 0x4000 + i*PageSize
			w, err := v.Read32(va)
			Expect(err).ToNot(HaveOccurred())
			Expect(w).To(Equal(uint32(0xCAFE0000 + i)))
		}
	})

	It("should keep slot ownership consistent under pressure", func() {
		buf := make([]byte, 1)
		for page := uint32(0); page < testImagePages; page++ {
			Expect(v.ReadR(page*PageSize, buf)).To(Succeed())
		}

		cached := 0
		for i := range v.pages {
			slot := v.pages[i].cacheSlot
			if slot == noSlot {
				continue
			}
			cached++
			c := v.cache[slot-1]
			Expect(c.valid).To(BeTrue())
			Expect(c.owner).To(Equal(uint32(i)))
		}
		Expect(cached).To(Equal(numSlots))
	})

	It("should open new regions through SetPerms", func() {
		expectScratch()

		// .text is not writable; re-protecting it models a patcher
		// making code pages writable.
		Expect(v.SetPerms(0x1000, 0x1000, PermRead|PermWrite|PermExec)).
			To(Succeed())

		Expect(v.Write8(0x1000, 0xCC)).To(Succeed())
		b, err := v.Read8(0x1000)
		Expect(err).ToNot(HaveOccurred())
		Expect(b).To(Equal(uint8(0xCC)))
	})

	It("should apply SetPerms to every page of the range", func() {
		Expect(v.SetPerms(0x4000, 3*PageSize, PermRead)).To(Succeed())

		for _, va := range []uint32{0x4000, 0x5000, 0x6000} {
			p, err := v.Perms(va)
			Expect(err).ToNot(HaveOccurred())
			Expect(p).To(Equal(PermRead))
		}

		p, err := v.Perms(0x7000)
		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(PermRead | PermWrite))
	})

	It("should bounds-check the permission accessors", func() {
		end := uint32(testImagePages * PageSize)

		_, err := v.Perms(end)
		Expect(err).To(MatchError(ErrOutOfRange))

		Expect(v.SetPerms(end, 1, PermRead)).To(MatchError(ErrOutOfRange))
		Expect(v.SetPerms(end-PageSize, 2*PageSize, PermRead)).
			To(MatchError(ErrOutOfRange))
	})

	It("should report layout permissions", func() {
		p, err := v.Perms(0x0)
		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(PermRead))

		p, err = v.Perms(0x1000)
		Expect(err).ToNot(HaveOccurred())
		Expect(p).To(Equal(PermRead | PermExec))
		Expect(p.String()).To(Equal("r-x"))
	})

	It("should remove the scratch file at teardown", func() {
		path := expectScratch()

		// Enough dirty pages to force an eviction flush.
		for i := uint32(0); i < 20; i++ {
			Expect(v.Write8(0x4000+i*PageSize, 1)).To(Succeed())
		}

		_, err := os.Stat(path)
		Expect(err).ToNot(HaveOccurred())

		Expect(v.Close()).To(Succeed())

		_, err = os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
	})

	It("should tear down twice without error", func() {
		Expect(v.Close()).To(Succeed())
		Expect(v.Close()).To(Succeed())
	})

	It("should tolerate teardown of a nil instance", func() {
		var none *VMM
		Expect(none.Close()).To(Succeed())
	})

	Context("with a failing input file", func() {
		BeforeEach(func() {
			info, sections := testImage()
			var err error
			v, err = MakeBuilder().
				WithImage(info).
				WithSections(sections).
				WithInput(erroringReaderAt{}).
				WithLogger(testLogger()).
				WithTempFiler(tempFiler).
				Build()
			Expect(err).ToNot(HaveOccurred())
		})

		It("should fail the access and detach the slot", func() {
			buf := make([]byte, 1)
			err := v.ReadR(0x0, buf)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, ErrOutOfRange)).To(BeFalse())
			Expect(errors.Is(err, ErrNoPerm)).To(BeFalse())
			Expect(v.pages[0].cacheSlot).To(Equal(uint8(noSlot)))
		})

		It("should still serve zero-fill pages", func() {
			buf := make([]byte, 8)
			Expect(v.ReadR(0x4000, buf)).To(Succeed())
			Expect(buf).To(Equal(make([]byte, 8)))
		})
	})

	Context("with a tracer attached", func() {
		var tracer *MockTracer

		BeforeEach(func() {
			tracer = NewMockTracer(mockCtrl)

			info, sections := testImage()
			var err error
			v, err = MakeBuilder().
				WithImage(info).
				WithSections(sections).
				WithInput(bytes.NewReader(fileBytes)).
				WithLogger(testLogger()).
				WithTempFiler(tempFiler).
				WithTracer(tracer).
				Build()
			Expect(err).ToNot(HaveOccurred())
		})

		It("should report the adjacent page-in before the target", func() {
			tracer.EXPECT().PageIn(uint32(1), 0, false)
			tracer.EXPECT().PageIn(uint32(0), 1, false)

			_, err := v.Read8(0x0)
			Expect(err).ToNot(HaveOccurred())
		})

		It("should report protection faults", func() {
			tracer.EXPECT().PageIn(gomock.Any(), gomock.Any(), gomock.Any()).
				AnyTimes()
			tracer.EXPECT().Fault(uint32(0x1000), "write-protection")

			Expect(v.Write8(0x1000, 0x90)).To(MatchError(ErrNoPerm))
		})

		It("should report out-of-range faults", func() {
			end := uint32(testImagePages * PageSize)
			tracer.EXPECT().Fault(end, "out-of-range")

			buf := make([]byte, 1)
			Expect(v.ReadR(end, buf)).To(MatchError(ErrOutOfRange))
		})
	})
})

var _ = Describe("Perm", func() {
	It("should format the full set", func() {
		Expect((PermRead | PermWrite | PermExec).String()).To(Equal("rwx"))
	})

	It("should format the empty set", func() {
		Expect(PermNone.String()).To(Equal("---"))
	})

	It("should test subsets, not intersections", func() {
		Expect((PermRead | PermExec).Has(PermRead)).To(BeTrue())
		Expect(PermRead.Has(PermRead | PermWrite)).To(BeFalse())
	})
})

var _ = Describe("VMM construction", func() {
	var (
		info     pe.ImageInfo
		sections []pe.Section
		input    *bytes.Reader
	)

	BeforeEach(func() {
		info, sections = testImage()
		input = bytes.NewReader(testFileBytes())
	})

	build := func() (*VMM, error) {
		return MakeBuilder().
			WithImage(info).
			WithSections(sections).
			WithInput(input).
			WithLogger(testLogger()).
			Build()
	}

	It("should reject PE32+ images", func() {
		info.Magic = pe.MagicPE32Plus

		_, err := build()
		Expect(err).To(MatchError(ErrUnsupportedImage))
	})

	It("should reject non-x86 machine types", func() {
		info.Machine = 0x8664

		_, err := build()
		Expect(err).To(MatchError(ErrUnsupportedImage))
	})

	It("should reject images without sections", func() {
		sections = nil

		_, err := build()
		Expect(err).To(MatchError(ErrUnsupportedImage))
	})

	It("should reject a virtual-address gap between sections", func() {
		sections[1].VirtualAddr += 0x1000
		sections[2].VirtualAddr += 0x1000

		_, err := build()
		Expect(err).To(MatchError(ErrBadLayout))
	})

	It("should reject overlapping sections", func() {
		sections[1].VirtualAddr -= 0x1000
		sections[2].VirtualAddr -= 0x1000

		_, err := build()
		Expect(err).To(MatchError(ErrBadLayout))
	})

	It("should reject section pages outside the image extent", func() {
		// The final section wraps the 32-bit address space, leaving
		// its pages beyond the allocated table.
		sections = []pe.Section{
			{
				Name:            ".text",
				VirtualAddr:     0xFFFFF000,
				VirtualSize:     0x2000,
				Raw:             0x400,
				Characteristics: pe.ScnMemRead,
			},
		}

		_, err := build()
		Expect(err).To(MatchError(ErrBadLayout))
	})

	It("should accumulate permissions across overlapping ranges", func() {
		// .data spills into the first .bss page: a short final page
		// rounds up to a full page that both sections claim.
		sections[1].VirtualSize = 0x1200
		sections[2].VirtualAddr = 0x4200
		sections[2].VirtualSize = 0x1FE00

		v, err := build()
		Expect(err).ToNot(HaveOccurred())
		defer v.Close()

		p, permErr := v.Perms(0x4000)
		Expect(permErr).ToNot(HaveOccurred())
		Expect(p).To(Equal(PermRead | PermWrite))
	})

	It("should panic when no input is supplied", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithImage(info).WithSections(sections).Build()
		}).To(Panic())
	})
})
