package vm

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/scanforge/peemu/pe"
)

// Builder constructs VMM instances.
type Builder struct {
	info      pe.ImageInfo
	sections  []pe.Section
	input     io.ReaderAt
	log       logrus.FieldLogger
	tempFiler TempFiler
	tracer    Tracer
}

// MakeBuilder returns a Builder with default collaborators: the
// standard logger as the diagnostic sink and OS temp files as the
// scratch store.
func MakeBuilder() Builder {
	return Builder{
		log:       logrus.StandardLogger(),
		tempFiler: osTempFiler{},
	}
}

// WithImage sets the parsed image header fields.
func (b Builder) WithImage(info pe.ImageInfo) Builder {
	b.info = info
	return b
}

// WithSections sets the image's section descriptors, in virtual
// address order.
func (b Builder) WithSections(sections []pe.Section) Builder {
	b.sections = sections
	return b
}

// WithInput sets the original image bytes. The reader is borrowed and
// must stay valid for the VMM's lifetime.
func (b Builder) WithInput(input io.ReaderAt) Builder {
	b.input = input
	return b
}

// WithLogger sets the diagnostic sink.
func (b Builder) WithLogger(log logrus.FieldLogger) Builder {
	b.log = log
	return b
}

// WithTempFiler sets the scratch file provisioner.
func (b Builder) WithTempFiler(tf TempFiler) Builder {
	b.tempFiler = tf
	return b
}

// WithTracer attaches a paging tracer.
func (b Builder) WithTracer(t Tracer) Builder {
	b.tracer = t
	return b
}

// Build validates the image and constructs the address space. On
// failure no usable instance is returned and nothing is left behind on
// disk.
func (b Builder) Build() (*VMM, error) {
	if b.input == nil {
		panic("vm: input must be set before Build")
	}

	if b.info.Magic == pe.MagicPE32Plus {
		return nil, fmt.Errorf("PE32+: %w", ErrUnsupportedImage)
	}
	if len(b.sections) == 0 {
		return nil, fmt.Errorf("no sections, nothing to emulate: %w",
			ErrUnsupportedImage)
	}

	last := b.sections[len(b.sections)-1]
	nPages := (last.VirtualAddr + last.VirtualSize + PageSize - 1) / PageSize

	v := &VMM{
		pages:     make([]pageEntry, nPages),
		imageBase: b.info.ImageBase,
		input:     b.input,
		tempFiler: b.tempFiler,
		log:       b.log,
		tracer:    b.tracer,
		lastSlot:  -1,
	}

	if err := v.mapImage(b.info, b.sections); err != nil {
		_ = v.Close()
		return nil, err
	}

	return v, nil
}
