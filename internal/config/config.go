// Package config loads application configuration from a YAML file with
// environment-variable overrides over built-in defaults, the same layered
// approach the reference media-server stack uses for its own config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Plugins  PluginConfig   `yaml:"plugins" json:"plugins"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host" env:"REELVAULT_HOST" default:"0.0.0.0"`
	Port         int           `yaml:"port" json:"port" env:"REELVAULT_PORT" default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" env:"REELVAULT_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" env:"REELVAULT_WRITE_TIMEOUT" default:"30s"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors" env:"REELVAULT_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds embedded-SQL settings.
type DatabaseConfig struct {
	Path       string `yaml:"path" json:"path" env:"REELVAULT_DATABASE_PATH" default:"./data/reelvault.db"`
	LogQueries bool   `yaml:"log_queries" json:"log_queries" env:"REELVAULT_DB_LOG_QUERIES" default:"false"`
}

// PluginConfig holds C1/C2 plugin host and registry settings.
type PluginConfig struct {
	Dir              string        `yaml:"dir" json:"dir" env:"REELVAULT_PLUGIN_DIR" default:"./data/plugins"`
	RequestTimeout   time.Duration `yaml:"request_timeout" json:"request_timeout" env:"REELVAULT_PLUGIN_REQUEST_TIMEOUT" default:"30s"`
	InactivityTimeout time.Duration `yaml:"inactivity_timeout" json:"inactivity_timeout" env:"REELVAULT_PLUGIN_INACTIVITY_TIMEOUT" default:"60s"`
	KillGrace        time.Duration `yaml:"kill_grace" json:"kill_grace" env:"REELVAULT_PLUGIN_KILL_GRACE" default:"2s"`
	WatchManifests   bool          `yaml:"watch_manifests" json:"watch_manifests" env:"REELVAULT_PLUGIN_WATCH" default:"true"`
}

// CacheConfig holds C5 asset cache settings.
type CacheConfig struct {
	Root                string `yaml:"root" json:"root" env:"REELVAULT_CACHE_ROOT" default:"./data/cache"`
	DownloadConcurrency int    `yaml:"download_concurrency" json:"download_concurrency" env:"REELVAULT_CACHE_DOWNLOAD_CONCURRENCY" default:"5"`
	ConvertConcurrency  int    `yaml:"convert_concurrency" json:"convert_concurrency" env:"REELVAULT_CACHE_CONVERT_CONCURRENCY" default:"3"`
}

// LoggingConfig selects the output shape internal/logger renders.
type LoggingConfig struct {
	Format string `yaml:"format" json:"format" env:"LOG_FORMAT" default:"text"`
	Level  string `yaml:"level" json:"level" env:"LOG_LEVEL" default:"info"`
}

// DefaultConfig returns the configuration in effect before any file or
// environment override is applied.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Path:       "./data/reelvault.db",
			LogQueries: false,
		},
		Plugins: PluginConfig{
			Dir:               "./data/plugins",
			RequestTimeout:    30 * time.Second,
			InactivityTimeout: 60 * time.Second,
			KillGrace:         2 * time.Second,
			WatchManifests:    true,
		},
		Cache: CacheConfig{
			Root:                "./data/cache",
			DownloadConcurrency: 5,
			ConvertConcurrency:  3,
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Manager owns the active configuration and notifies watchers on reload.
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
	watchers   []Watcher
}

// Watcher is called with the old and new configuration after a reload.
type Watcher func(oldConfig, newConfig *Config)

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the process-wide configuration manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{config: DefaultConfig()}
	})
	return globalManager
}

// LoadConfig starts from DefaultConfig, reads configPath (if it exists) over
// it, applies environment overrides on top, and swaps in the result.
func (m *Manager) LoadConfig(configPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldConfig := *m.config
	m.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	m.config = newConfig

	for _, w := range m.watchers {
		go w(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	configCopy := *m.config
	return &configCopy
}

// AddWatcher registers a callback invoked after every successful reload.
func (m *Manager) AddWatcher(w Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, w)
}

// SaveConfig writes the current configuration back to its load path.
func (m *Manager) SaveConfig() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.configPath == "" {
		return fmt.Errorf("no config path set")
	}
	return saveToFile(m.configPath, m.config)
}

func loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func saveToFile(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load loads configuration from configPath into the global manager.
func Load(configPath string) error {
	return GetManager().LoadConfig(configPath)
}

// Get returns the global manager's current configuration.
func Get() *Config {
	return GetManager().GetConfig()
}

// AddWatcher registers a reload callback on the global manager.
func AddWatcher(w Watcher) {
	GetManager().AddWatcher(w)
}

// Save persists the global manager's configuration to its load path.
func Save() error {
	return GetManager().SaveConfig()
}
