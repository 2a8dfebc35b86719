package cache_store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *CacheStore {
	t.Helper()
	c, err := NewCacheStore(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	return c
}

func TestNewCacheStoreValidation(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "some/dir/"} {
		_, err := NewCacheStore(bad)
		assert.Error(t, err, bad)
	}
	_, err := NewCacheStore("cache.json")
	assert.NoError(t, err)
}

func TestSetGetDelete(t *testing.T) {
	c := newStore(t)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte(`{"a":1}`))
	entry, ok := c.Get("k")
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(entry.Value))
	assert.WithinDuration(t, time.Now(), entry.SavedAt, time.Second)
	assert.Equal(t, 1, c.Len())

	c.Set("k", []byte(`{"a":2}`))
	entry, _ = c.Get("k")
	assert.JSONEq(t, `{"a":2}`, string(entry.Value))
	assert.Equal(t, 1, c.Len(), "overwrite must not grow the store")

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestFresh(t *testing.T) {
	c := newStore(t)
	c.Set("live", []byte(`"v"`))

	value, ok := c.Fresh("live", time.Minute)
	require.True(t, ok)
	assert.Equal(t, `"v"`, string(value))

	// Age the entry past any plausible max-age.
	c.mu.Lock()
	c.entries["live"] = CacheEntry{Value: c.entries["live"].Value, SavedAt: time.Now().Add(-time.Hour)}
	c.mu.Unlock()

	_, ok = c.Fresh("live", time.Minute)
	assert.False(t, ok, "a stale entry is not served")
	_, ok = c.Get("live")
	assert.True(t, ok, "staleness does not evict")

	_, ok = c.Fresh("missing", time.Minute)
	assert.False(t, ok)
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c, err := NewCacheStore(path)
	require.NoError(t, err)

	c.Set("course_documents:C101", []byte(`[{"id":"d1"}]`))
	c.Set("course_documents:C102", []byte(`[]`))
	require.NoError(t, c.Save())

	reloaded, err := NewCacheStore(path)
	require.NoError(t, err)
	require.NoError(t, reloaded.Load())

	assert.Equal(t, 2, reloaded.Len())
	entry, ok := reloaded.Get("course_documents:C101")
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"d1"}]`, string(entry.Value))
	assert.WithinDuration(t, time.Now(), entry.SavedAt, time.Minute)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	c := newStore(t)
	require.NoError(t, c.Load())
	assert.Equal(t, 0, c.Len())
}

func TestLoadRejectsBadHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"wrong magic", `{"header":{"version":1,"magic":"SOMETHING_ELSE"},"entries":[]}`},
		{"wrong version", `{"header":{"version":99,"magic":"JWXT_PORTAL_CACHE"},"entries":[]}`},
		{"not json", `this is not json`},
		{"duplicate key", `{"header":{"version":1,"magic":"JWXT_PORTAL_CACHE"},"entries":[
			{"key":"k","value":"1","saved_at":"2026-01-01T00:00:00Z"},
			{"key":"k","value":"2","saved_at":"2026-01-01T00:00:00Z"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cache.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			c, err := NewCacheStore(path)
			require.NoError(t, err)
			assert.Error(t, c.Load())
		})
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	c, err := NewCacheStore(path)
	require.NoError(t, err)

	c.Set("k", []byte(`true`))
	require.NoError(t, c.Save())

	_, err = os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err), "lock file must be released")
}
