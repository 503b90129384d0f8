package assetcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigStore_CreatesDefaultsWhenAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_config.json")

	store, err := LoadConfigStore(path)
	require.NoError(t, err)

	cfg := store.Get()
	assert.True(t, cfg.GlobalCacheEnabled)
	assert.Empty(t, cfg.Scrapers)

	_, err = os.Stat(path)
	assert.NoError(t, err, "defaults must be flushed to disk")
}

func TestLoadConfigStore_CorruptedFileIsBackedUpAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache_config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	store, err := LoadConfigStore(path)
	require.NoError(t, err)
	assert.True(t, store.Get().GlobalCacheEnabled)

	backup, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(backup))
}

// Repeated auto-enables never move auto_enabled_at: the timestamp records
// the first engagement only.
func TestAutoEnable_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_config.json")
	store, err := LoadConfigStore(path)
	require.NoError(t, err)

	require.NoError(t, store.AutoEnable("maturenl"))
	first := store.Get().Scrapers["maturenl"]
	require.True(t, first.CacheEnabled)
	require.True(t, first.AutoEnabled)
	require.NotNil(t, first.AutoEnabledAt)
	assert.Equal(t, defaultCacheFields, first.CacheFields)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.AutoEnable("maturenl"))

	second := store.Get().Scrapers["maturenl"]
	assert.True(t, second.AutoEnabledAt.Equal(*first.AutoEnabledAt), "auto_enabled_at must keep the first call's timestamp")
}

func TestAutoEnable_PersistsAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_config.json")
	store, err := LoadConfigStore(path)
	require.NoError(t, err)

	require.NoError(t, store.AutoEnable("somescraper"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Config
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.True(t, onDisk.Scrapers["somescraper"].CacheEnabled)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not survive a flush")
}

func TestScraperConfig_UnknownScraperDefaultsDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache_config.json")
	store, err := LoadConfigStore(path)
	require.NoError(t, err)

	sc := store.Get().ScraperConfig("never-seen")
	assert.False(t, sc.CacheEnabled)
	assert.False(t, sc.AutoEnabled)
	assert.Equal(t, defaultCacheFields, sc.CacheFields)
}
