// Package facecache remembers detector output per file content and rotation so
// re-running an organize job over the same photos skips detection.
package facecache

import (
	"crypto/sha1"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/kozaktomas/face-organizer/internal/detector"
)

// Cache is a two-level (memory, optional disk) store of detected faces.
// A nil *Cache is valid and never hits.
type Cache struct {
	mu  sync.RWMutex
	m   map[string][]detector.Face
	dir string
}

// New creates a cache persisting entries under dir; an empty dir keeps entries in memory only.
func New(dir string) (*Cache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
	}
	return &Cache{m: make(map[string][]detector.Face), dir: dir}, nil
}

// Key derives the cache key for file content viewed at the given clockwise rotation.
func Key(data []byte, rotation int) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:]) + "_r" + strconv.Itoa(rotation)
}

// Get returns the cached faces for key. Disk entries are promoted to memory.
func (c *Cache) Get(key string) ([]detector.Face, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	faces, ok := c.m[key]
	c.mu.RUnlock()
	if ok {
		return faces, true
	}

	faces, ok, err := c.load(key)
	if err != nil || !ok {
		return nil, false
	}
	c.mu.Lock()
	c.m[key] = faces
	c.mu.Unlock()
	return faces, true
}

// Put stores faces for key in memory and, when configured, on disk.
func (c *Cache) Put(key string, faces []detector.Face) error {
	if c == nil {
		return nil
	}
	if faces == nil {
		faces = []detector.Face{}
	}
	c.mu.Lock()
	c.m[key] = faces
	c.mu.Unlock()
	return c.save(key, faces)
}

// Len returns the number of entries held in memory.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+".gob")
}

func (c *Cache) load(key string) ([]detector.Face, bool, error) {
	if c.dir == "" {
		return nil, false, nil
	}
	f, err := os.Open(c.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var faces []detector.Face
	if err := gob.NewDecoder(f).Decode(&faces); err != nil {
		return nil, false, fmt.Errorf("cache entry broken: %s: %w", c.path(key), err)
	}
	if faces == nil {
		faces = []detector.Face{}
	}
	return faces, true, nil
}

// save writes through a temp file so concurrent readers never see partial entries.
func (c *Cache) save(key string, faces []detector.Face) error {
	if c.dir == "" {
		return nil
	}
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating cache entry: %w", err)
	}
	if err := gob.NewEncoder(tmp).Encode(faces); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), c.path(key)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}
