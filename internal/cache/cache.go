// Package cache implements the persisted prompt→reply response cache.
//
// Keys are stable FNV-64a content hashes of the prompt text, so entries
// remain valid across restarts. The backing file is a flat JSON object
// (hash key → reply text) rewritten in full after every Put.
package cache

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxEntries bounds the cache when no explicit limit is set.
// The original design grew without bound; a cap keeps the full-map
// rewrite on Put from degrading over long uptimes.
const DefaultMaxEntries = 1000

// Key returns the stable cache key for a prompt. FNV-64a is
// deliberately non-cryptographic: collisions are tolerable, speed and
// stability across restarts are what matter.
func Key(prompt string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Cache is a bounded, disk-backed reply memo. Safe for concurrent use;
// a single mutex serializes every read-modify-write of the map and its
// persisted form.
type Cache struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	entries    map[string]string
	order      []string // insertion order, oldest first, for eviction
	logger     *slog.Logger
}

// New creates a cache backed by the file at path, loading any existing
// entries. A corrupt or unreadable file logs a warning and starts
// empty rather than failing. maxEntries <= 0 uses DefaultMaxEntries.
func New(path string, maxEntries int, logger *slog.Logger) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	c := &Cache{
		path:       path,
		maxEntries: maxEntries,
		entries:    make(map[string]string),
		logger:     logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("response cache unreadable, starting empty",
				"path", path, "error", err)
		}
		return c
	}

	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("response cache corrupt, starting empty",
			"path", path, "error", err)
		c.entries = make(map[string]string)
		return c
	}

	// Insertion order is not persisted; loaded entries are treated as
	// equally old and evicted in map-iteration order when the bound hits.
	for k := range c.entries {
		c.order = append(c.order, k)
	}

	logger.Debug("response cache loaded", "path", path, "entries", len(c.entries))
	return c
}

// Get returns the cached reply for key, if present.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	text, ok := c.entries[key]
	return text, ok
}

// Put stores a reply and persists the whole map (write-through). Puts
// are idempotent by key: re-storing a key refreshes its value without
// growing the cache, so a late write from an abandoned request is
// harmless. When the bound is exceeded the oldest entry is evicted.
func (c *Cache) Put(key, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = text

	for len(c.entries) > c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.persistLocked()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// persistLocked writes the full map to disk atomically. Callers must
// hold c.mu. Persistence failures are logged, never raised: a cache
// that cannot write is still a working cache for this process.
func (c *Cache) persistLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		c.logger.Error("marshal response cache", "error", err)
		return
	}

	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Error("create cache dir", "path", c.path, "error", err)
		return
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Error("write response cache", "path", tmp, "error", err)
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.logger.Error("rename response cache", "path", c.path, "error", err)
	}
}
