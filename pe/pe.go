// Package pe holds the parsed PE image metadata that the virtual memory
// manager consumes. Container parsing lives here too, but only the
// fields the emulator needs survive parsing.
package pe

// Machine identifies the architecture a PE image targets.
type Machine uint16

// Machine types the emulator accepts. All of them are 32-bit x86
// family variants.
const (
	MachineI386 Machine = 0x14c
	MachineI486 Machine = 0x14d
	MachineI586 Machine = 0x14e
)

// IsX86 reports whether the machine type is one of the supported
// 32-bit x86 variants.
func (m Machine) IsX86() bool {
	switch m {
	case MachineI386, MachineI486, MachineI586:
		return true
	}
	return false
}

// Optional header magic values.
const (
	MagicPE32     = 0x10b
	MagicPE32Plus = 0x20b
)

// Characteristics is the raw section characteristics flag word.
type Characteristics uint32

const (
	ScnCntUninitializedData Characteristics = 0x00000080
	ScnMemExecute           Characteristics = 0x20000000
	ScnMemRead              Characteristics = 0x40000000
	ScnMemWrite             Characteristics = 0x80000000
)

// IsZeroFill reports whether the section carries no bytes in the file
// and reads as zero until written.
func (c Characteristics) IsZeroFill() bool {
	return c&ScnCntUninitializedData != 0
}

// A Section describes one section of the image as laid out by the
// linker.
type Section struct {
	Name            string
	VirtualAddr     uint32
	VirtualSize     uint32
	Raw             uint32
	RawSize         uint32
	Characteristics Characteristics
}

// ImageInfo carries the header fields the memory manager needs to lay
// an image out.
type ImageInfo struct {
	Machine          Machine
	Magic            uint16
	ImageBase        uint32
	SectionAlignment uint32
	FileAlignment    uint32
}

// An Image is the parsed description of one executable.
type Image struct {
	Info     ImageInfo
	Sections []Section
}
