// Package cache_store implements the on-disk response cache of the portal
// client: a key→value store with a per-key write timestamp. Freshness
// policy belongs to the caller, which supplies its own max-age per lookup;
// the store itself never expires anything.
package cache_store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kydzhou/go-jwxt-client/filelock"
)

// CacheEntry holds one cached value and the time it was written.
type CacheEntry struct {
	Value   json.RawMessage
	SavedAt time.Time
}

// CacheStore manages cached portal responses in memory and persists them to
// a single JSON file. All methods are safe for concurrent use.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]CacheEntry
	path    string
}

// NewCacheStore creates a CacheStore backed by the given file path for
// later use with Load and Save. Returns an error if the path is obviously
// invalid.
func NewCacheStore(path string) (*CacheStore, error) {
	if path == "" {
		return nil, fmt.Errorf("filename cannot be empty")
	}
	if path == "." || path == ".." || path[len(path)-1] == '/' {
		return nil, fmt.Errorf("invalid filename: %s", path)
	}

	return &CacheStore{
		entries: make(map[string]CacheEntry),
		path:    path,
	}, nil
}

// Set stores value under key with the current time as its write timestamp.
func (c *CacheStore) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry{
		Value:   append(json.RawMessage(nil), value...),
		SavedAt: time.Now(),
	}
}

// Get returns the entry stored under key, if any.
func (c *CacheStore) Get(key string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Fresh returns the value under key only if it was written within maxAge.
// A stale or missing entry yields (nil, false); the entry itself is kept.
func (c *CacheStore) Fresh(key string, maxAge time.Duration) ([]byte, bool) {
	entry, ok := c.Get(key)
	if !ok || time.Since(entry.SavedAt) > maxAge {
		return nil, false
	}
	return entry.Value, true
}

// Delete removes the entry stored under key.
func (c *CacheStore) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of stored entries.
func (c *CacheStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load reads the cache from the file specified at construction. A missing
// file is not an error; the store simply starts empty.
func (c *CacheStore) Load() error {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.entries = make(map[string]CacheEntry)
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to open cache file: %w", err)
	}
	defer f.Close()

	entries, err := loadEntriesFromReader(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	return nil
}

// Save writes the cache to disk atomically (temp file + rename), guarded by
// a file lock so concurrent processes cannot interleave writes.
func (c *CacheStore) Save() error {
	c.mu.RLock()
	entries := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		entries[k] = v
	}
	c.mu.RUnlock()

	return filelock.WithLock(c.path, func() error {
		tmp := c.path + ".tmp"
		f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to create temp cache file: %w", err)
		}
		if err := saveToWriter(f, entries); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to close temp cache file: %w", err)
		}
		return os.Rename(tmp, c.path)
	})
}
