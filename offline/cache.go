/*
Package offline provides the durable local cache used while the sync
transport is unavailable.

PURPOSE:
  When connectivity drops, metric samples that could not be broadcast are
  parked here with pendingSync=true and replayed through the normal
  ingestion->merge path once the transport recovers (FIFO per key). The
  cache is a durability boundary: Put does not return success until the
  snapshot is safely on disk.

DURABILITY:
  The file implementation writes the whole snapshot to a temp file and
  renames it over the previous one, so a crash mid-write leaves the prior
  snapshot intact.

SEE ALSO:
  - engine/engine.go: Offline fallback and replay orchestration
*/
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// CACHE TYPES
// =============================================================================

// Entry is one cached sample. Entries keep their insertion order so replay
// is FIFO.
type Entry struct {
	Key         string               `json:"key"`
	Sample      metrics.MetricSample `json:"sample"`
	CachedAt    time.Time            `json:"cached_at"`
	PendingSync bool                 `json:"pending_sync"`
}

// KeyFor derives the cache key from a sample's canonical identity.
func KeyFor(s metrics.MetricSample) string {
	return fmt.Sprintf("%s|%s|%s", s.UserID, s.MetricName, s.Date)
}

// Cache is a durable key-value store for disconnected periods.
type Cache interface {
	// Put persists entries durably before returning. Re-putting an existing
	// key updates it in place, keeping its insertion position.
	Put(ctx context.Context, entries []Entry) error

	// Snapshot returns every cached entry, insertion order.
	Snapshot(ctx context.Context) ([]Entry, error)

	// Pending returns entries awaiting replay, insertion order (FIFO).
	Pending(ctx context.Context) ([]Entry, error)

	// Clear removes entries whose mutation is confirmed applied.
	Clear(ctx context.Context, keys []string) error
}

// =============================================================================
// FILE CACHE - JSON snapshot with atomic rename
// =============================================================================

type FileCache struct {
	path string

	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

type fileCacheState struct {
	Entries []Entry `json:"entries"`
}

// NewFileCache opens (or creates) a cache file.
func NewFileCache(path string) (*FileCache, error) {
	if path == "" {
		return nil, errors.New("offline cache path required")
	}
	c := &FileCache{path: path, index: make(map[string]int)}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *FileCache) Put(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := append([]Entry(nil), c.entries...)
	for _, e := range entries {
		if i, ok := c.index[e.Key]; ok {
			c.entries[i] = e
			continue
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	if err := c.saveLocked(); err != nil {
		c.entries = prev
		c.reindexLocked()
		return err
	}
	return nil
}

func (c *FileCache) Snapshot(_ context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...), nil
}

func (c *FileCache) Pending(_ context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Entry
	for _, e := range c.entries {
		if e.PendingSync {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *FileCache) Clear(_ context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}

	prev := append([]Entry(nil), c.entries...)
	kept := c.entries[:0]
	for _, e := range c.entries {
		if !drop[e.Key] {
			kept = append(kept, e)
		}
	}
	c.entries = append([]Entry(nil), kept...)
	c.reindexLocked()

	if err := c.saveLocked(); err != nil {
		c.entries = prev
		c.reindexLocked()
		return err
	}
	return nil
}

func (c *FileCache) reindexLocked() {
	c.index = make(map[string]int, len(c.entries))
	for i, e := range c.entries {
		c.index[e.Key] = i
	}
}

func (c *FileCache) load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var state fileCacheState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	c.entries = state.Entries
	c.reindexLocked()
	return nil
}

// saveLocked writes the snapshot durably: temp file, then rename.
func (c *FileCache) saveLocked() error {
	state := fileCacheState{Entries: append([]Entry(nil), c.entries...)}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}

// =============================================================================
// MEMORY CACHE - For tests
// =============================================================================

type MemoryCache struct {
	mu      sync.Mutex
	entries []Entry
	index   map[string]int
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{index: make(map[string]int)}
}

func (c *MemoryCache) Put(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if i, ok := c.index[e.Key]; ok {
			c.entries[i] = e
			continue
		}
		c.index[e.Key] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return nil
}

func (c *MemoryCache) Snapshot(_ context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...), nil
}

func (c *MemoryCache) Pending(_ context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Entry
	for _, e := range c.entries {
		if e.PendingSync {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *MemoryCache) Clear(_ context.Context, keys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	kept := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if !drop[e.Key] {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	c.index = make(map[string]int, len(kept))
	for i, e := range kept {
		c.index[e.Key] = i
	}
	return nil
}
