package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWhenFileMissing(t *testing.T) {
	m := &Manager{config: DefaultConfig()}
	err := m.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 8080, m.GetConfig().Server.Port)
	assert.Equal(t, "./data/plugins", m.GetConfig().Plugins.Dir)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte("server:\n  port: 9090\nplugins:\n  dir: /srv/plugins\n"), 0644)
	require.NoError(t, err)

	m := &Manager{config: DefaultConfig()}
	require.NoError(t, m.LoadConfig(path))

	cfg := m.GetConfig()
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/plugins", cfg.Plugins.Dir)
	assert.Equal(t, 5, cfg.Cache.DownloadConcurrency, "unset fields keep their default")
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	t.Setenv("REELVAULT_PORT", "7000")

	m := &Manager{config: DefaultConfig()}
	require.NoError(t, m.LoadConfig(""))

	assert.Equal(t, 7000, m.GetConfig().Server.Port)
}

func TestSaveConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	m := &Manager{config: DefaultConfig(), configPath: path}
	m.config.Server.Port = 9999
	require.NoError(t, m.SaveConfig())

	reloaded := &Manager{config: DefaultConfig()}
	require.NoError(t, reloaded.LoadConfig(path))
	assert.Equal(t, 9999, reloaded.GetConfig().Server.Port)
}

func TestAddWatcher_NotifiedOnReload(t *testing.T) {
	m := &Manager{config: DefaultConfig()}
	done := make(chan struct{}, 1)
	m.AddWatcher(func(oldConfig, newConfig *Config) {
		done <- struct{}{}
	})

	require.NoError(t, m.LoadConfig(""))
	<-done
}
