package assetcache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashbourne-dev/reelvault/internal/logger"
)

// ScraperConfig is the per-scraper caching policy. AutoEnabledAt is set the
// first time auto-engagement fires for this scraper and never overwritten
// afterward (property P6).
type ScraperConfig struct {
	CacheEnabled  bool       `json:"cache_enabled"`
	AutoEnabled   bool       `json:"auto_enabled"`
	AutoEnabledAt *time.Time `json:"auto_enabled_at,omitempty"`
	CacheFields   []string   `json:"cache_fields"`
}

// Config is the on-disk cache configuration document.
type Config struct {
	GlobalCacheEnabled bool                     `json:"global_cache_enabled"`
	Scrapers           map[string]ScraperConfig `json:"scrapers"`
}

func defaultConfig() Config {
	return Config{
		GlobalCacheEnabled: true,
		Scrapers:           map[string]ScraperConfig{},
	}
}

// defaultCacheFields is the field set a newly auto-enabled scraper gets.
var defaultCacheFields = []string{"poster", "backdrop", "preview", "preview_video"}

// ConfigStore guards the cache config with a read/write lock and flushes to
// disk while still holding the write lock, so a save is never observed
// half-written by a concurrent reader of the file (§5's torn-read policy).
type ConfigStore struct {
	mu   sync.RWMutex
	path string
	cfg  Config
}

// LoadConfigStore reads path, creating it with defaults if absent. A file
// that fails to parse is renamed to "<path>.backup" and replaced with
// defaults rather than aborting startup.
func LoadConfigStore(path string) (*ConfigStore, error) {
	s := &ConfigStore{path: path, cfg: defaultConfig()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn("cache config corrupted, resetting to defaults",
			logger.String("path", path),
			logger.Err("error", err),
		)
		backupPath := path + ".backup"
		if renameErr := os.Rename(path, backupPath); renameErr != nil {
			logger.Warn("failed to preserve corrupted cache config",
				logger.String("path", path),
				logger.Err("error", renameErr),
			)
		}
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if cfg.Scrapers == nil {
		cfg.Scrapers = map[string]ScraperConfig{}
	}
	s.cfg = cfg
	return s, nil
}

// Get returns a copy of the current config.
func (s *ConfigStore) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cloneLocked()
}

func (s *ConfigStore) cloneLocked() Config {
	scrapers := make(map[string]ScraperConfig, len(s.cfg.Scrapers))
	for k, v := range s.cfg.Scrapers {
		scrapers[k] = v
	}
	return Config{GlobalCacheEnabled: s.cfg.GlobalCacheEnabled, Scrapers: scrapers}
}

// ScraperConfig returns the policy for name, or a disabled default if the
// scraper has never been seen.
func (c Config) ScraperConfig(name string) ScraperConfig {
	if sc, ok := c.Scrapers[name]; ok {
		return sc
	}
	return ScraperConfig{CacheFields: defaultCacheFields}
}

// AutoEnable turns on caching for a scraper the first time one of its
// result URLs is classified ephemeral. Idempotent: AutoEnabledAt is set only
// if the scraper isn't already auto_enabled (property P6).
func (s *ConfigStore) AutoEnable(scraperName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cfg.Scrapers[scraperName]
	if ok && existing.AutoEnabled {
		return nil
	}

	now := time.Now()
	updated := existing
	updated.CacheEnabled = true
	updated.AutoEnabled = true
	updated.AutoEnabledAt = &now
	if len(updated.CacheFields) == 0 {
		updated.CacheFields = defaultCacheFields
	}
	s.cfg.Scrapers[scraperName] = updated

	return s.flushLocked()
}

// SetScraperConfig overwrites the stored policy for name (a manual operator
// change via the admin surface, as opposed to AutoEnable's automatic path).
func (s *ConfigStore) SetScraperConfig(name string, sc ScraperConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Scrapers[name] = sc
	return s.flushLocked()
}

func (s *ConfigStore) flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *ConfigStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
