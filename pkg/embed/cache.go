package embed

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// Cache is the content-addressed embedding store: hash of normalized
// content → vector. Entries live in memory and one file per hash on disk,
// so they outlive any single corpus and any single process.
//
// Concurrent writers racing on the same hash resolve write-once-wins: the
// first writer creates the file, later writers observe it and skip. Both
// writers computed the vector from identical content, so the entries are
// interchangeable either way.
type Cache struct {
	mu   sync.RWMutex
	mem  map[string][]float32
	dir  string // empty = memory only
}

// NewCache creates a cache persisting under dir. An empty dir keeps the
// cache memory-only (used in tests).
func NewCache(dir string) (*Cache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return &Cache{
		mem: make(map[string][]float32),
		dir: dir,
	}, nil
}

// Get returns the cached vector for a content hash, or nil on miss.
func (c *Cache) Get(hash string) []float32 {
	c.mu.RLock()
	vec, ok := c.mem[hash]
	c.mu.RUnlock()
	if ok {
		return vec
	}

	if c.dir == "" {
		return nil
	}
	vec = c.readFile(hash)
	if vec != nil {
		c.mu.Lock()
		c.mem[hash] = vec
		c.mu.Unlock()
	}
	return vec
}

// Put stores a vector under a content hash. The disk write is write-once:
// an existing entry for the hash is left untouched.
func (c *Cache) Put(hash string, vec []float32) error {
	c.mu.Lock()
	if _, exists := c.mem[hash]; !exists {
		c.mem[hash] = vec
	}
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	return c.writeFile(hash, vec)
}

// Clear drops every entry, in memory and on disk. This is the only
// invalidation path; entries have no TTL.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.mem = make(map[string][]float32)
	c.mu.Unlock()

	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".vec" {
			_ = os.Remove(filepath.Join(c.dir, e.Name()))
		}
	}
	return nil
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *Cache) entryPath(hash string) string {
	return filepath.Join(c.dir, hash+".vec")
}

func (c *Cache) readFile(hash string) []float32 {
	data, err := os.ReadFile(c.entryPath(hash))
	if err != nil || len(data)%4 != 0 || len(data) == 0 {
		return nil
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec
}

func (c *Cache) writeFile(hash string, vec []float32) error {
	path := c.entryPath(hash)
	// Write-once: first writer wins.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	data := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}
