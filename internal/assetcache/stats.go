package assetcache

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashbourne-dev/reelvault/internal/logger"
)

// ScraperUsage is one entry of Stats.ByScraper.
type ScraperUsage struct {
	Size  int64 `json:"size"`
	Files int   `json:"files"`
}

// Stats summarizes everything currently on disk under the cache root.
type Stats struct {
	TotalSize int64                   `json:"total_size"`
	TotalFiles int                    `json:"total_files"`
	ByScraper map[string]ScraperUsage `json:"by_scraper"`
}

var cacheSubtrees = []string{filepath.Join("images", "media"), filepath.Join("videos", "media")}

// Stats walks the cache root and attributes every file's size to the
// scraper that last matched its owning media row.
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByScraper: map[string]ScraperUsage{}}
	scraperOf := make(map[string]string)

	for _, subtree := range cacheSubtrees {
		root := filepath.Join(c.root, subtree)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				if os.IsNotExist(walkErr) {
					return nil
				}
				return walkErr
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}

			mediaID := mediaIDFromPath(c.root, path)
			scraperName, seen := scraperOf[mediaID]
			if !seen {
				if media, err := c.repo.GetMedia(ctx, mediaID); err == nil {
					scraperName = media.ScraperSource
				}
				scraperOf[mediaID] = scraperName
			}

			stats.TotalSize += info.Size()
			stats.TotalFiles++
			usage := stats.ByScraper[scraperName]
			usage.Size += info.Size()
			usage.Files++
			stats.ByScraper[scraperName] = usage
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to walk %s: %w", subtree, err)
		}
	}

	return stats, nil
}

// mediaIDFromPath extracts the {media_id} path segment from
// "<root>/images/media/{media_id}/…" or "<root>/videos/media/{media_id}/…".
func mediaIDFromPath(root, fullPath string) string {
	rel, err := filepath.Rel(root, fullPath)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 3 {
		return parts[2]
	}
	return ""
}

// ClearMedia deletes every cached asset for one media ID.
func (c *Cache) ClearMedia(mediaID string) error {
	var errs []error
	for _, subtree := range cacheSubtrees {
		dir := filepath.Join(c.root, subtree, mediaID)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear media %s: %v", mediaID, errs)
	}
	return nil
}

// ClearAll removes every cached asset for every media.
func (c *Cache) ClearAll() error {
	for _, subtree := range cacheSubtrees {
		dir := filepath.Join(c.root, subtree)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", subtree, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to recreate %s: %w", subtree, err)
		}
	}
	return nil
}

// ClearOrphaned removes any media subtree whose media_id no longer exists
// in the repository (property P7) without touching subtrees that are
// still referenced.
func (c *Cache) ClearOrphaned(ctx context.Context) (int, error) {
	removed := 0

	for _, subtree := range cacheSubtrees {
		root := filepath.Join(c.root, subtree)
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("failed to read %s: %w", subtree, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			mediaID := entry.Name()
			exists, err := c.repo.MediaExists(ctx, mediaID)
			if err != nil {
				logger.Warn("orphan sweep: failed to check media existence, skipping",
					logger.String("media_id", mediaID),
					logger.Err("error", err),
				)
				continue
			}
			if exists {
				continue
			}
			if err := os.RemoveAll(filepath.Join(root, mediaID)); err != nil {
				logger.Warn("orphan sweep: failed to remove subtree",
					logger.String("media_id", mediaID),
					logger.Err("error", err),
				)
				continue
			}
			removed++
		}
	}

	return removed, nil
}
