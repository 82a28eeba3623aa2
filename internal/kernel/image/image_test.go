package image

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"lilithos/internal/testsuite"
)

func TestMemImage(t *testing.T) {
	img := NewMemImage(testsuite.Bytes())
	require.Equal(t, uint64(256), img.Size())

	word, err := img.ReadWord(0)
	require.NoError(t, err)
	require.Equal(t, uint32(0x03020100), word)

	err = img.WriteWord(4, 0xE3A00000)
	require.NoError(t, err)
	word, err = img.ReadWord(4)
	require.NoError(t, err)
	require.Equal(t, uint32(0xE3A00000), word)

	// the written word landed in the backing slice
	require.Equal(t, []byte{0x00, 0x00, 0xA0, 0xE3}, img.Bytes()[4:8])

	// the last full word
	_, err = img.ReadWord(252)
	require.NoError(t, err)
}

func TestMemImageOutOfRange(t *testing.T) {
	img := NewMemImage(make([]byte, 16))

	_, err := img.ReadWord(16)
	require.Error(t, err)
	require.True(t, IsOffsetError(err))

	// partial word at the end
	_, err = img.ReadWord(14)
	require.True(t, IsOffsetError(err))

	err = img.WriteWord(1024, 0)
	require.True(t, IsOffsetError(err))

	// offset overflow
	_, err = img.ReadWord(^uint64(0) - 1)
	require.True(t, IsOffsetError(err))
}

func TestFileImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernelcache")
	err := ioutil.WriteFile(path, testsuite.Bytes(), 0600)
	require.NoError(t, err)

	img, err := OpenFile(path)
	require.NoError(t, err)
	require.Equal(t, uint64(256), img.Size())

	word, err := img.ReadWord(8)
	require.NoError(t, err)
	require.Equal(t, uint32(0x0B0A0908), word)

	err = img.WriteWord(8, 0xE3500000)
	require.NoError(t, err)
	word, err = img.ReadWord(8)
	require.NoError(t, err)
	require.Equal(t, uint32(0xE3500000), word)

	_, err = img.ReadWord(300)
	require.True(t, IsOffsetError(err))

	require.NoError(t, img.Sync())
	require.NoError(t, img.Close())

	// written word reached the disk
	data, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x50, 0xE3}, data[8:12])
}

func TestOpenFileNotExist(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "not exist"))
	require.Error(t, err)
	require.True(t, os.IsNotExist(errCause(err)))
}

func TestRebased(t *testing.T) {
	mem := NewMemImage(testsuite.Bytes())
	img := WithBase(mem, DefaultKernelBase)
	require.Equal(t, uint64(256), img.Size())

	word, err := img.ReadWord(DefaultKernelBase)
	require.NoError(t, err)
	require.Equal(t, uint32(0x03020100), word)

	err = img.WriteWord(DefaultKernelBase+4, 0xE3A00001)
	require.NoError(t, err)
	word, err = mem.ReadWord(4)
	require.NoError(t, err)
	require.Equal(t, uint32(0xE3A00001), word)

	// below the base is unmapped
	_, err = img.ReadWord(0x1000)
	require.True(t, IsOffsetError(err))
}

type causer interface {
	Cause() error
}

func errCause(err error) error {
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		err = c.Cause()
	}
}
