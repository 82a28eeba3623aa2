package signature

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"

	"lilithos/internal/patch/msgpack"
)

// Cache holds resolved offsets keyed by image digest and signature.
type Cache struct {
	Entries map[string]uint64 `msgpack:"entries"`

	rwm sync.RWMutex
}

// NewCache is used to create an empty offset cache.
func NewCache() *Cache {
	return &Cache{Entries: make(map[string]uint64)}
}

// LoadCache is used to load a cache file, a missing file returns an
// empty cache.
func LoadCache(path string) (*Cache, error) {
	data, err := ioutil.ReadFile(path) // #nosec
	if err != nil {
		if os.IsNotExist(err) {
			return NewCache(), nil
		}
		return nil, errors.Wrap(err, "failed to load offset cache")
	}
	cache := NewCache()
	err = msgpack.Unmarshal(data, cache)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode offset cache")
	}
	if cache.Entries == nil {
		cache.Entries = make(map[string]uint64)
	}
	return cache, nil
}

// Get is used to look up a cached offset.
func (cache *Cache) Get(key string) (uint64, bool) {
	cache.rwm.RLock()
	defer cache.rwm.RUnlock()
	offset, ok := cache.Entries[key]
	return offset, ok
}

// Set is used to store a resolved offset.
func (cache *Cache) Set(key string, offset uint64) {
	cache.rwm.Lock()
	defer cache.rwm.Unlock()
	cache.Entries[key] = offset
}

// Save is used to write the cache to path.
func (cache *Cache) Save(path string) error {
	cache.rwm.RLock()
	defer cache.rwm.RUnlock()
	data, err := msgpack.Marshal(cache)
	if err != nil {
		return errors.Wrap(err, "failed to encode offset cache")
	}
	return ioutil.WriteFile(path, data, 0600)
}
