package image

import (
	"github.com/blacktop/go-macho"
	"github.com/pkg/errors"
)

// DefaultKernelBase is the virtual base of the target kernel,
// iOS 9.3.6 on iPhone 4S (Darwin 15.6.0).
const DefaultKernelBase = 0x80001000

// segment is one mapped region of a kernelcache, it translates
// virtual addresses to file offsets.
type segment struct {
	name   string
	addr   uint64
	offset uint64
	filesz uint64
}

// Kernelcache is a Mach-O aware file image, patch offsets are
// virtual addresses inside the mapped segments.
type Kernelcache struct {
	file *FileImage
	segs []segment
}

// OpenKernelcache is used to open a decompressed kernelcache and
// read its segment table.
func OpenKernelcache(path string) (*Kernelcache, error) {
	m, err := macho.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse kernelcache")
	}
	var segs []segment
	for _, s := range m.Segments() {
		if s.Filesz == 0 {
			continue
		}
		segs = append(segs, segment{
			name:   s.Name,
			addr:   s.Addr,
			offset: s.Offset,
			filesz: s.Filesz,
		})
	}
	err = m.Close()
	if err != nil {
		return nil, errors.Wrap(err, "failed to close kernelcache parser")
	}
	if len(segs) == 0 {
		return nil, errors.New("kernelcache contains no mapped segment")
	}
	file, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	return &Kernelcache{file: file, segs: segs}, nil
}

// translate is used to convert a virtual address to a file offset,
// addresses outside every segment are unmapped.
func translate(segs []segment, op string, addr uint64) (uint64, error) {
	for i := 0; i < len(segs); i++ {
		seg := &segs[i]
		if addr >= seg.addr && addr+WordSize <= seg.addr+seg.filesz {
			return seg.offset + (addr - seg.addr), nil
		}
	}
	return 0, &OffsetError{Op: op, Offset: addr}
}

// ReadWord is used to read a 32-bit word at a virtual address.
func (kc *Kernelcache) ReadWord(addr uint64) (uint32, error) {
	offset, err := translate(kc.segs, "read", addr)
	if err != nil {
		return 0, err
	}
	return kc.file.ReadWord(offset)
}

// WriteWord is used to write a 32-bit word at a virtual address.
func (kc *Kernelcache) WriteWord(addr uint64, word uint32) error {
	offset, err := translate(kc.segs, "write", addr)
	if err != nil {
		return err
	}
	return kc.file.WriteWord(offset, word)
}

// AddrOf is used to convert a file offset back to the virtual address
// that maps it, offsets outside every segment are unmapped.
func (kc *Kernelcache) AddrOf(offset uint64) (uint64, error) {
	for i := 0; i < len(kc.segs); i++ {
		seg := &kc.segs[i]
		if offset >= seg.offset && offset+WordSize <= seg.offset+seg.filesz {
			return seg.addr + (offset - seg.offset), nil
		}
	}
	return 0, &OffsetError{Op: "translate", Offset: offset}
}

// Size is used to get the size of the underlying file.
func (kc *Kernelcache) Size() uint64 {
	return kc.file.Size()
}

// Sync is used to flush written words to the disk.
func (kc *Kernelcache) Sync() error {
	return kc.file.Sync()
}

// Close is used to close the underlying file.
func (kc *Kernelcache) Close() error {
	return kc.file.Close()
}
