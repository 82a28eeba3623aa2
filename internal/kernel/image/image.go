package image

import (
	"fmt"
	"os"

	"github.com/pkg/errors"

	"lilithos/internal/convert"
)

// WordSize is the size of a patch unit, the target is a 32-bit ARM kernel.
const WordSize = 4

// Image is the target address space that a patch engine reads and writes.
// Words are little endian. Implementations are static kernelcache images,
// a live kernel target was never connected in the original project and is
// deliberately not modeled here.
type Image interface {
	ReadWord(offset uint64) (uint32, error)
	WriteWord(offset uint64, word uint32) error
	Size() uint64
}

// OffsetError means an offset is unmapped or out of the image range.
type OffsetError struct {
	Op     string
	Offset uint64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("%s at unmapped offset 0x%08X", e.Op, e.Offset)
}

// IsOffsetError is used to check err contains an OffsetError.
func IsOffsetError(err error) bool {
	var oe *OffsetError
	return errors.As(err, &oe)
}

func checkRange(op string, offset, size uint64) error {
	if offset+WordSize > size || offset+WordSize < offset {
		return &OffsetError{Op: op, Offset: offset}
	}
	return nil
}

// MemImage is a byte slice backed image, it is used for synthetic
// tables in tests and for scanning a whole image in memory.
type MemImage struct {
	data []byte
}

// NewMemImage is used to create an image over data, the slice is not copied.
func NewMemImage(data []byte) *MemImage {
	return &MemImage{data: data}
}

// ReadWord is used to read a 32-bit word at offset.
func (img *MemImage) ReadWord(offset uint64) (uint32, error) {
	err := checkRange("read", offset, uint64(len(img.data)))
	if err != nil {
		return 0, err
	}
	return convert.LEBytesToUint32(img.data[offset : offset+WordSize]), nil
}

// WriteWord is used to write a 32-bit word at offset.
func (img *MemImage) WriteWord(offset uint64, word uint32) error {
	err := checkRange("write", offset, uint64(len(img.data)))
	if err != nil {
		return err
	}
	copy(img.data[offset:offset+WordSize], convert.LEUint32ToBytes(word))
	return nil
}

// Size is used to get the image size.
func (img *MemImage) Size() uint64 {
	return uint64(len(img.data))
}

// Bytes is used to get the underlying data, the caller must not hold it
// across writes.
func (img *MemImage) Bytes() []byte {
	return img.data
}

// Rebased wraps an image whose patch offsets are virtual addresses
// starting at base, like KERNEL_BASE on the original target.
type Rebased struct {
	img  Image
	base uint64
}

// WithBase is used to wrap an image so that reads and writes take
// virtual addresses instead of raw offsets.
func WithBase(img Image, base uint64) *Rebased {
	return &Rebased{img: img, base: base}
}

func (r *Rebased) translate(op string, addr uint64) (uint64, error) {
	if addr < r.base {
		return 0, &OffsetError{Op: op, Offset: addr}
	}
	return addr - r.base, nil
}

// ReadWord is used to read a 32-bit word at a virtual address.
func (r *Rebased) ReadWord(addr uint64) (uint32, error) {
	offset, err := r.translate("read", addr)
	if err != nil {
		return 0, err
	}
	return r.img.ReadWord(offset)
}

// WriteWord is used to write a 32-bit word at a virtual address.
func (r *Rebased) WriteWord(addr uint64, word uint32) error {
	offset, err := r.translate("write", addr)
	if err != nil {
		return err
	}
	return r.img.WriteWord(offset, word)
}

// Size is used to get the size of the wrapped image.
func (r *Rebased) Size() uint64 {
	return r.img.Size()
}

// FileImage is a file backed image, offsets are file offsets.
type FileImage struct {
	file *os.File
	size uint64
}

// OpenFile is used to open a file backed image for read and write.
func OpenFile(path string) (*FileImage, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0600) // #nosec
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image file")
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrap(err, "failed to get image file stat")
	}
	return &FileImage{file: file, size: uint64(stat.Size())}, nil
}

// ReadWord is used to read a 32-bit word at offset.
func (img *FileImage) ReadWord(offset uint64) (uint32, error) {
	err := checkRange("read", offset, img.size)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, WordSize)
	_, err = img.file.ReadAt(buf, int64(offset))
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read word at 0x%08X", offset)
	}
	return convert.LEBytesToUint32(buf), nil
}

// WriteWord is used to write a 32-bit word at offset.
func (img *FileImage) WriteWord(offset uint64, word uint32) error {
	err := checkRange("write", offset, img.size)
	if err != nil {
		return err
	}
	_, err = img.file.WriteAt(convert.LEUint32ToBytes(word), int64(offset))
	if err != nil {
		return errors.Wrapf(err, "failed to write word at 0x%08X", offset)
	}
	return nil
}

// Size is used to get the image size.
func (img *FileImage) Size() uint64 {
	return img.size
}

// Sync is used to flush written words to the disk.
func (img *FileImage) Sync() error {
	return img.file.Sync()
}

// Close is used to close the underlying file.
func (img *FileImage) Close() error {
	return img.file.Close()
}
