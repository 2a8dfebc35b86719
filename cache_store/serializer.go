package cache_store

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const (
	CACHE_VERSION = 1
	CACHE_MAGIC   = "JWXT_PORTAL_CACHE"
)

// jsonHeader is used for marshaling/unmarshaling metadata for cache files.
type jsonHeader struct {
	Version int    `json:"version"`
	Magic   string `json:"magic"`
	Created string `json:"created"`
}

// jsonCacheEntry is used for marshaling/unmarshaling CacheEntry to/from JSON.
type jsonCacheEntry struct {
	Key     string          `json:"key"`
	Value   json.RawMessage `json:"value"`
	SavedAt string          `json:"saved_at"`
}

type jsonCacheDocument struct {
	Header  jsonHeader       `json:"header"`
	Entries []jsonCacheEntry `json:"entries"`
}

// validate checks that the JSON header matches the expected version and magic string.
func (hdr *jsonHeader) validate() error {
	if hdr.Version != CACHE_VERSION {
		return fmt.Errorf("unsupported version: %d", hdr.Version)
	}
	if hdr.Magic != CACHE_MAGIC {
		return fmt.Errorf("invalid magic: %s", hdr.Magic)
	}
	return nil
}

// loadEntriesFromReader decodes a cache document without holding any locks.
func loadEntriesFromReader(r io.Reader) (map[string]CacheEntry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read content: %w", err)
	}

	var doc jsonCacheDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cache: %w", err)
	}

	if err := doc.Header.validate(); err != nil {
		return nil, fmt.Errorf("invalid cache header: %w", err)
	}

	entries := make(map[string]CacheEntry, len(doc.Entries))
	for _, entry := range doc.Entries {
		savedAt, err := time.Parse(time.RFC3339, entry.SavedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse saved_at: %w", err)
		}

		if _, exists := entries[entry.Key]; exists {
			return nil, fmt.Errorf("duplicate key: %s", entry.Key)
		}

		entries[entry.Key] = CacheEntry{
			Value:   entry.Value,
			SavedAt: savedAt,
		}
	}

	return entries, nil
}

// saveToWriter writes the provided entries to the writer in JSON format.
// This function does not hold any locks and is safe to call with a copied map.
func saveToWriter(w io.Writer, entries map[string]CacheEntry) error {
	jsonEntries := make([]jsonCacheEntry, 0, len(entries))
	for key, entry := range entries {
		jsonEntries = append(jsonEntries, jsonCacheEntry{
			Key:     key,
			Value:   entry.Value,
			SavedAt: entry.SavedAt.Format(time.RFC3339),
		})
	}

	doc := jsonCacheDocument{
		Header: jsonHeader{
			Version: CACHE_VERSION,
			Magic:   CACHE_MAGIC,
			Created: time.Now().Format(time.RFC3339),
		},
		Entries: jsonEntries,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return fmt.Errorf("file write error: %w", err)
	}

	return nil
}
