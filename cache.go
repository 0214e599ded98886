package layerio

import (
	"container/list"
	"encoding/binary"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Shared zstd coders for cached pixel blocks. EncodeAll and DecodeAll are
// safe for concurrent use, so one instance of each serves every cache.
var (
	blockEnc = mustZstdEncoder()
	blockDec = mustZstdDecoder()
)

func mustZstdEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithLowerEncoderMem(true))
	if err != nil {
		panic(err)
	}
	return enc
}

func mustZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true))
	if err != nil {
		panic(err)
	}
	return dec
}

// blockKey identifies one cached pixel block: a tile-aligned channel range
// of one subimage, under one decode configuration.
type blockKey struct {
	path string
	fp   string
	sub  int
	ch1  int
	ch2  int
	x1   int
	y1   int
	x2   int
	y2   int
}

type blockEntry struct {
	key  blockKey
	data []byte // zstd-compressed little-endian float32 samples
	elem *list.Element
}

type specKey struct {
	path string
	fp   string
}

// defaultCacheBytes bounds a Cache constructed with a non-positive budget.
const defaultCacheBytes = 256 << 20

// Cache memoizes subimage metadata and compressed pixel blocks across
// Readers. Blocks are held zstd-compressed under a byte budget with
// least-recently-used eviction. A Cache is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	max     int64
	used    int64
	specTab map[specKey][]*ImageSpec
	blocks  map[blockKey]*blockEntry
	lru     *list.List

	// last is the most recent path decoded outside sequential playback.
	// Returning to a path after reading others flushes its entries, so a
	// re-rendered file is never served stale.
	last string
}

// NewCache creates a cache bounded to maxBytes of compressed block data.
// maxBytes <= 0 selects the built-in default of 256 MiB.
func NewCache(maxBytes int64) *Cache {
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	return &Cache{
		max:     maxBytes,
		specTab: make(map[specKey][]*ImageSpec),
		blocks:  make(map[blockKey]*blockEntry),
		lru:     list.New(),
	}
}

// specs returns the memoized subimage specs for (path, fp), loading and
// storing them on a miss.
func (c *Cache) specs(path, fp string, load func() ([]*ImageSpec, error)) ([]*ImageSpec, error) {
	key := specKey{path: path, fp: fp}
	c.mu.Lock()
	if s, ok := c.specTab[key]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	s, err := load()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.specTab[key] = s
	c.mu.Unlock()
	return s, nil
}

// loadBlock decompresses a cached block into dst and reports whether the
// key was present with exactly len(dst) samples.
func (c *Cache) loadBlock(key blockKey, dst []float32) bool {
	c.mu.Lock()
	e, ok := c.blocks[key]
	if ok {
		c.lru.MoveToFront(e.elem)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	raw, err := blockDec.DecodeAll(e.data, nil)
	if err != nil || len(raw) != len(dst)*4 {
		c.mu.Lock()
		c.removeLocked(key)
		c.mu.Unlock()
		return false
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return true
}

// storeBlock compresses and caches a pixel block, evicting old blocks as
// needed to stay within the byte budget.
func (c *Cache) storeBlock(key blockKey, data []float32) {
	raw := make([]byte, len(data)*4)
	for i, f := range data {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(f))
	}
	comp := blockEnc.EncodeAll(raw, nil)
	if int64(len(comp)) > c.max {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
	e := &blockEntry{key: key, data: comp}
	e.elem = c.lru.PushFront(e)
	c.blocks[key] = e
	c.used += int64(len(comp))
	for c.used > c.max {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*blockEntry).key)
	}
}

func (c *Cache) removeLocked(key blockKey) {
	e, ok := c.blocks[key]
	if !ok {
		return
	}
	c.lru.Remove(e.elem)
	delete(c.blocks, key)
	c.used -= int64(len(e.data))
}

// noteRandomAccess records a random-access decode of path. Switching back
// to a path after decoding others invalidates its entries first.
func (c *Cache) noteRandomAccess(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == path {
		return
	}
	c.invalidateLocked(path)
	c.last = path
}

// Invalidate drops every cached entry for path, across all configurations.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	c.invalidateLocked(path)
	c.mu.Unlock()
}

func (c *Cache) invalidateLocked(path string) {
	for key := range c.specTab {
		if key.path == path {
			delete(c.specTab, key)
		}
	}
	for key := range c.blocks {
		if key.path == path {
			c.removeLocked(key)
		}
	}
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.specTab = make(map[specKey][]*ImageSpec)
	c.blocks = make(map[blockKey]*blockEntry)
	c.lru.Init()
	c.used = 0
	c.last = ""
	c.mu.Unlock()
}

// UsedBytes returns the compressed size of the cached blocks.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}

// NumBlocks returns the number of cached pixel blocks.
func (c *Cache) NumBlocks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
