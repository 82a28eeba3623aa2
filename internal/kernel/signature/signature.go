package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pattern is a byte signature, "??" marks a wildcard byte.
//
// "05 00 51 E3 ?? 00 00 0A"
type Pattern struct {
	source string
	data   []byte
	mask   []bool // true = compare this byte
}

// Compile is used to parse a signature string to a pattern.
func Compile(s string) (*Pattern, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, errors.New("empty signature")
	}
	pattern := Pattern{
		source: s,
		data:   make([]byte, len(fields)),
		mask:   make([]bool, len(fields)),
	}
	wildcards := 0
	for i, field := range fields {
		if field == "??" {
			wildcards++
			continue
		}
		b, err := hex.DecodeString(field)
		if err != nil || len(b) != 1 {
			return nil, errors.Errorf("invalid signature byte %q", field)
		}
		pattern.data[i] = b[0]
		pattern.mask[i] = true
	}
	if wildcards == len(fields) {
		return nil, errors.New("signature contains only wildcards")
	}
	return &pattern, nil
}

// Len is used to get the pattern length in bytes.
func (p *Pattern) Len() int {
	return len(p.data)
}

func (p *Pattern) String() string {
	return p.source
}

// matchAt reports whether the pattern matches data at i.
func (p *Pattern) matchAt(data []byte, i int) bool {
	for j := 0; j < len(p.data); j++ {
		if p.mask[j] && data[i+j] != p.data[j] {
			return false
		}
	}
	return true
}

// Scan is used to find all offsets in data that match the pattern.
func Scan(data []byte, p *Pattern) []uint64 {
	var offsets []uint64
	for i := 0; i+p.Len() <= len(data); i++ {
		if p.matchAt(data, i) {
			offsets = append(offsets, uint64(i))
		}
	}
	return offsets
}

// ErrNotFound means the pattern does not appear in the image.
var ErrNotFound = errors.New("signature not found")

// AmbiguousError means the pattern appears more than once, a wrong
// offset must never be picked arbitrarily.
type AmbiguousError struct {
	Signature string
	Count     int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("signature %q matches %d locations", e.Signature, e.Count)
}

// Find is used to find the single offset that matches the pattern.
func Find(data []byte, p *Pattern) (uint64, error) {
	offsets := Scan(data, p)
	switch len(offsets) {
	case 0:
		return 0, ErrNotFound
	case 1:
		return offsets[0], nil
	default:
		return 0, &AmbiguousError{Signature: p.String(), Count: len(offsets)}
	}
}

// Resolver resolves signatures against one image, results can be cached
// on the disk keyed by image digest so repeated runs skip the scan.
type Resolver struct {
	data   []byte
	base   uint64
	digest string

	cache     *Cache
	cachePath string
}

// NewResolver is used to create a resolver over raw image bytes, base is
// added to every resolved offset (the virtual base of the image).
func NewResolver(data []byte, base uint64) *Resolver {
	sum := sha256.Sum256(data)
	return &Resolver{
		data:   data,
		base:   base,
		digest: hex.EncodeToString(sum[:8]),
	}
}

// UseCache is used to load the offset cache from path, a missing file
// starts an empty cache.
func (r *Resolver) UseCache(path string) error {
	cache, err := LoadCache(path)
	if err != nil {
		return err
	}
	r.cache = cache
	r.cachePath = path
	return nil
}

func (r *Resolver) cacheKey(sig string) string {
	return r.digest + "|" + sig
}

// Resolve is used to find the single offset of a signature, it
// implements the patcher Resolver interface.
func (r *Resolver) Resolve(sig string) (uint64, error) {
	if r.cache != nil {
		if offset, ok := r.cache.Get(r.cacheKey(sig)); ok {
			return offset, nil
		}
	}
	pattern, err := Compile(sig)
	if err != nil {
		return 0, err
	}
	offset, err := Find(r.data, pattern)
	if err != nil {
		return 0, err
	}
	offset += r.base
	if r.cache != nil {
		r.cache.Set(r.cacheKey(sig), offset)
		err = r.cache.Save(r.cachePath)
		if err != nil {
			return 0, errors.WithMessage(err, "failed to save offset cache")
		}
	}
	return offset, nil
}
