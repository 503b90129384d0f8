package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/ashbourne-dev/reelvault/internal/logger"
)

// Registry indexes every plugin found under a root directory, one
// subdirectory per plugin, each containing a plugin.cue manifest.
type Registry struct {
	rootDir string
	parser  *manifestParser

	mu      sync.RWMutex
	plugins map[string]*Manifest

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

// NewRegistry scans rootDir once and, if watch is true, starts an
// fsnotify watcher so subsequent manifest changes trigger an automatic
// Reload.
func NewRegistry(rootDir string, watch bool) (*Registry, error) {
	r := &Registry{
		rootDir: rootDir,
		parser:  newManifestParser(),
		plugins: make(map[string]*Manifest),
		closeCh: make(chan struct{}),
	}

	if err := r.Reload(); err != nil {
		return nil, err
	}

	if watch {
		if err := r.startWatching(); err != nil {
			logger.Warn("plugin registry: failed to start manifest watcher",
				logger.String("dir", rootDir),
				logger.Err("error", err),
			)
		}
	}

	return r, nil
}

// Reload re-scans rootDir and replaces the in-memory index atomically.
// A single malformed plugin directory is logged and skipped rather than
// failing the whole reload.
func (r *Registry) Reload() error {
	entries, err := os.ReadDir(r.rootDir)
	if err != nil {
		return fmt.Errorf("failed to read plugin directory %s: %w", r.rootDir, err)
	}

	found := make(map[string]*Manifest, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(r.rootDir, entry.Name())
		manifestPath := filepath.Join(pluginDir, "plugin.cue")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}

		manifest, err := r.parser.parse(pluginDir)
		if err != nil {
			logger.Warn("plugin registry: skipping invalid manifest",
				logger.String("dir", pluginDir),
				logger.Err("error", err),
			)
			continue
		}

		if err := checkExecutable(manifest.ExecutablePath); err != nil {
			logger.Warn("plugin registry: skipping plugin with unusable executable",
				logger.String("id", manifest.ID),
				logger.String("executable", manifest.ExecutablePath),
				logger.Err("error", err),
			)
			continue
		}

		if existing, ok := found[manifest.ID]; ok {
			logger.Warn("plugin registry: duplicate plugin id, keeping first",
				logger.String("id", manifest.ID),
				logger.String("kept", existing.WorkingDirectory),
				logger.String("ignored", manifest.WorkingDirectory),
			)
			continue
		}
		found[manifest.ID] = manifest
	}

	r.mu.Lock()
	r.plugins = found
	r.mu.Unlock()

	logger.Info("plugin registry: reloaded", logger.Int("count", len(found)))
	return nil
}

// checkExecutable verifies the manifest's executable is a regular file
// with at least one execute bit set, so a broken plugin is rejected at
// scan time instead of surfacing as a spawn failure mid-scrape.
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// List returns every currently indexed manifest.
func (r *Registry) List() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Manifest, 0, len(r.plugins))
	for _, m := range r.plugins {
		out = append(out, m)
	}
	return out
}

// Find returns the manifest with the given ID, or nil if not indexed.
func (r *Registry) Find(id string) *Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[id]
}

// FindByCapability returns every indexed manifest declaring cap.
func (r *Registry) FindByCapability(cap Capability) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Manifest
	for _, m := range r.plugins {
		if m.HasCapability(cap) {
			out = append(out, m)
		}
	}
	return out
}

func (r *Registry) startWatching() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(r.rootDir); err != nil {
		watcher.Close()
		return err
	}
	r.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Write|fsnotify.Rename) != 0 {
					if err := r.Reload(); err != nil {
						logger.Warn("plugin registry: reload after fs event failed",
							logger.Err("error", err),
						)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("plugin registry: watcher error", logger.Err("error", err))
			case <-r.closeCh:
				return
			}
		}
	}()

	return nil
}

// Close stops the manifest watcher, if one is running.
func (r *Registry) Close() error {
	close(r.closeCh)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}
