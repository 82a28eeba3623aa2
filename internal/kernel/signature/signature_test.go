package signature

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	pattern, err := Compile("05 00 51 E3 ?? 00 00 0A")
	require.NoError(t, err)
	require.Equal(t, 8, pattern.Len())
	require.Equal(t, "05 00 51 E3 ?? 00 00 0A", pattern.String())

	for _, invalid := range [...]string{
		"",
		"GG",
		"05 001",
		"?? ?? ??",
	} {
		_, err = Compile(invalid)
		require.Error(t, err, invalid)
	}
}

func TestScan(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x50, 0xE3, 0xFF, 0xEE,
		0x00, 0x00, 0x50, 0xE3, 0x11, 0x22,
	}

	pattern, err := Compile("50 E3 ?? EE")
	require.NoError(t, err)
	offsets := Scan(data, pattern)
	require.Equal(t, []uint64{2}, offsets)

	pattern, err = Compile("00 00 50 E3")
	require.NoError(t, err)
	offsets = Scan(data, pattern)
	require.Equal(t, []uint64{0, 6}, offsets)

	pattern, err = Compile("AA BB")
	require.NoError(t, err)
	require.Nil(t, Scan(data, pattern))
}

func TestFind(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x01, 0x02, 0x04}

	pattern, err := Compile("02 03")
	require.NoError(t, err)
	offset, err := Find(data, pattern)
	require.NoError(t, err)
	require.Equal(t, uint64(1), offset)

	pattern, err = Compile("01 02")
	require.NoError(t, err)
	_, err = Find(data, pattern)
	require.Error(t, err)
	ambiguous, ok := err.(*AmbiguousError)
	require.True(t, ok)
	require.Equal(t, 2, ambiguous.Count)

	pattern, err = Compile("FF FF")
	require.NoError(t, err)
	_, err = Find(data, pattern)
	require.Equal(t, ErrNotFound, err)
}

func TestResolver(t *testing.T) {
	data := make([]byte, 64)
	copy(data[8:], []byte{0x00, 0x00, 0x50, 0xE3})

	resolver := NewResolver(data, 0x80001000)
	offset, err := resolver.Resolve("00 00 50 E3")
	require.NoError(t, err)
	require.Equal(t, uint64(0x80001008), offset)

	_, err = resolver.Resolve("FF FF FF FF")
	require.Error(t, err)

	_, err = resolver.Resolve("not a signature")
	require.Error(t, err)
}

func TestResolverCache(t *testing.T) {
	data := make([]byte, 64)
	copy(data[16:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	path := filepath.Join(t.TempDir(), "offsets.cache")

	resolver := NewResolver(data, 0)
	require.NoError(t, resolver.UseCache(path))
	offset, err := resolver.Resolve("AA BB CC DD")
	require.NoError(t, err)
	require.Equal(t, uint64(16), offset)

	// a fresh resolver over the same image hits the cache
	resolver2 := NewResolver(data, 0)
	require.NoError(t, resolver2.UseCache(path))
	offset, err = resolver2.Resolve("AA BB CC DD")
	require.NoError(t, err)
	require.Equal(t, uint64(16), offset)

	// a different image must not reuse the entry
	other := make([]byte, 64)
	copy(other[32:], []byte{0xAA, 0xBB, 0xCC, 0xDD})
	resolver3 := NewResolver(other, 0)
	require.NoError(t, resolver3.UseCache(path))
	offset, err = resolver3.Resolve("AA BB CC DD")
	require.NoError(t, err)
	require.Equal(t, uint64(32), offset)
}

func TestCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "offsets.cache")

	cache := NewCache()
	_, ok := cache.Get("key")
	require.False(t, ok)
	cache.Set("key", 0x1234)
	require.NoError(t, cache.Save(path))

	loaded, err := LoadCache(path)
	require.NoError(t, err)
	offset, ok := loaded.Get("key")
	require.True(t, ok)
	require.Equal(t, uint64(0x1234), offset)
}

func TestLoadCacheNotExist(t *testing.T) {
	cache, err := LoadCache(filepath.Join(t.TempDir(), "not exist"))
	require.NoError(t, err)
	require.NotNil(t, cache.Entries)
}
