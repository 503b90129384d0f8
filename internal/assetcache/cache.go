// Package assetcache implements the Asset Cache (C5): it watches scraped
// media rows for short-lived signed URLs, pulls them down, re-encodes
// images as WebP, selects the best video variant, and rewrites the row to
// point at the local copy.
package assetcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashbourne-dev/reelvault/internal/apperrors"
	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/logger"
	"github.com/ashbourne-dev/reelvault/internal/scrape"
)

const (
	maxConcurrentDownloads   = 5
	maxConcurrentConversions = 3
	imageTimeout             = 30 * time.Second
	videoTimeout             = 60 * time.Second
	maxRetries               = 2
	retryBackoff             = 1 * time.Second
)

// Cache implements scrape.AssetEngager.
type Cache struct {
	repo     *database.Repository
	root     string
	config   *ConfigStore
	client   *http.Client
	cdnHosts []string

	downloadSem chan struct{}
	convertSem  chan struct{}

	// dbWriteMu serializes read-modify-write on the JSON-array columns
	// (backdrop_url, preview_urls) so two concurrent index writes never
	// clobber each other — mirroring §5's capacity-1 writer policy.
	dbWriteMu sync.Mutex
}

// New builds a Cache rooted at root, using cfg for per-scraper policy.
// downloadSlots and convertSlots bound the in-flight downloads and image
// conversions; zero or negative picks the defaults.
func New(repo *database.Repository, root string, cfg *ConfigStore, downloadSlots, convertSlots int) *Cache {
	if downloadSlots <= 0 {
		downloadSlots = maxConcurrentDownloads
	}
	if convertSlots <= 0 {
		convertSlots = maxConcurrentConversions
	}
	return &Cache{
		repo:        repo,
		root:        root,
		config:      cfg,
		client:      &http.Client{},
		cdnHosts:    DefaultCDNHosts(),
		downloadSem: make(chan struct{}, downloadSlots),
		convertSem:  make(chan struct{}, convertSlots),
	}
}

// assetTask is one candidate download: a field on the media row plus, for
// list fields, the index within it that should be rewritten on success.
type assetTask struct {
	field   string // poster | backdrop | preview | preview_video
	index   int
	url     string
	quality string // preview_video only
	isVideo bool
}

// EngageMedia is the Pipeline's entry point into the cache: detect
// ephemeral URLs on media, auto-enable the scraper's policy on first
// detection, and download+rewrite every field the policy names.
func (c *Cache) EngageMedia(ctx context.Context, scraperName string, media *database.Media) error {
	if scraperName == "" {
		return nil
	}

	cfg := c.config.Get()
	if !cfg.GlobalCacheEnabled {
		return nil
	}

	tasks := c.buildPlan(media)
	if len(tasks) == 0 {
		return nil
	}

	scraperCfg := cfg.ScraperConfig(scraperName)
	if !scraperCfg.CacheEnabled {
		ephemeral := false
		for _, t := range tasks {
			if IsEphemeral(t.url, c.cdnHosts) {
				ephemeral = true
				break
			}
		}
		if !ephemeral {
			return nil
		}
		if err := c.config.AutoEnable(scraperName); err != nil {
			return apperrors.NewCacheError("auto-enable scraper", err)
		}
		scraperCfg = c.config.Get().ScraperConfig(scraperName)
	}

	enabled := make(map[string]bool, len(scraperCfg.CacheFields))
	for _, f := range scraperCfg.CacheFields {
		enabled[f] = true
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, task := range tasks {
		if !enabled[task.field] || alreadyLocal(task.url) {
			continue
		}
		wg.Add(1)
		go func(t assetTask) {
			defer wg.Done()
			if err := c.runTask(ctx, media, t); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				logger.Warn("asset cache task failed, keeping upstream url",
					logger.String("media_id", media.ID),
					logger.String("field", t.field),
					logger.Err("error", err),
				)
			}
		}(task)
	}
	wg.Wait()

	return firstErr
}

func alreadyLocal(rawURL string) bool {
	return strings.HasPrefix(rawURL, "/images/") || strings.HasPrefix(rawURL, "/videos/")
}

// buildPlan lists every candidate download in priority order: poster,
// backdrop, preview, preview_video. For preview_video, only the already-
// selected best variant becomes a task — the others are never downloaded.
func (c *Cache) buildPlan(media *database.Media) []assetTask {
	var tasks []assetTask

	if media.PosterURL != "" {
		tasks = append(tasks, assetTask{field: "poster", url: media.PosterURL})
	}
	for i, u := range scrape.DecodeStringList(media.BackdropURL) {
		if u == "" {
			continue
		}
		tasks = append(tasks, assetTask{field: "backdrop", index: i, url: u})
	}
	for i, u := range scrape.DecodeStringList(media.PreviewURLs) {
		if u == "" {
			continue
		}
		tasks = append(tasks, assetTask{field: "preview", index: i, url: u})
	}
	if variants := scrape.DecodeVideoVariantList(media.PreviewVideoURLs); len(variants) > 0 {
		if best, ok := SelectBestVariant(variants); ok && best.URL != "" {
			tasks = append(tasks, assetTask{field: "preview_video", url: best.URL, quality: best.Quality, isVideo: true})
		}
	}

	return tasks
}

func (c *Cache) runTask(ctx context.Context, media *database.Media, t assetTask) error {
	timeout := imageTimeout
	if t.isVideo {
		timeout = videoTimeout
	}

	data, contentType, err := c.downloadWithRetry(ctx, t.url, timeout)
	if err != nil {
		return apperrors.NewCacheError("download "+t.field, err)
	}

	if t.isVideo {
		return c.storeVideo(ctx, media, t, data)
	}
	return c.storeImage(ctx, media, t, data, contentType)
}

// downloadWithRetry fetches rawURL, retrying up to maxRetries times with a
// fixed backoff. The whole attempt sequence, not each individual attempt,
// holds a download semaphore slot.
func (c *Cache) downloadWithRetry(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, string, error) {
	c.downloadSem <- struct{}{}
	defer func() { <-c.downloadSem }()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
		}
		data, contentType, err := c.fetch(ctx, rawURL, timeout)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("download failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Cache) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Cache) storeImage(ctx context.Context, media *database.Media, t assetTask, data []byte, contentType string) error {
	c.convertSem <- struct{}{}
	webpData, _, _, err := convertToWebP(data, contentType)
	<-c.convertSem
	if err != nil {
		return err
	}

	relPath := imagePath(media.ID, t.field, t.index)
	fullPath := filepath.Join(c.root, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(fullPath, webpData, 0o644); err != nil {
		return err
	}

	return c.writeBackImage(ctx, media, t, "/"+filepath.ToSlash(relPath))
}

func (c *Cache) writeBackImage(ctx context.Context, media *database.Media, t assetTask, localURL string) error {
	switch t.field {
	case "poster":
		media.PosterURL = localURL
		return c.repo.UpdateMedia(ctx, media.ID, map[string]interface{}{"poster_url": localURL})
	case "backdrop":
		return c.rewriteListColumn(ctx, media.ID, "backdrop_url", t.index, localURL)
	case "preview":
		return c.rewriteListColumn(ctx, media.ID, "preview_urls", t.index, localURL)
	default:
		return fmt.Errorf("unknown image field %q", t.field)
	}
}

// rewriteListColumn re-reads the current value of column, overwrites a
// single element in place (preserving array length and order), and writes
// it back — all under dbWriteMu, so two tasks targeting the same column
// never race on a stale read.
func (c *Cache) rewriteListColumn(ctx context.Context, mediaID, column string, index int, localURL string) error {
	c.dbWriteMu.Lock()
	defer c.dbWriteMu.Unlock()

	fresh, err := c.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}

	var raw string
	switch column {
	case "backdrop_url":
		raw = fresh.BackdropURL
	case "preview_urls":
		raw = fresh.PreviewURLs
	}

	list := scrape.DecodeStringList(raw)
	if index < 0 || index >= len(list) {
		return fmt.Errorf("index %d out of range for %s (len %d)", index, column, len(list))
	}
	list[index] = localURL

	return c.repo.UpdateMedia(ctx, mediaID, map[string]interface{}{column: scrape.EncodeStringList(list)})
}

func (c *Cache) storeVideo(ctx context.Context, media *database.Media, t assetTask, data []byte) error {
	relPath := filepath.Join("videos", "media", media.ID, "preview_video"+videoExtension(t.url))
	fullPath := filepath.Join(c.root, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return err
	}

	localURL := "/" + filepath.ToSlash(relPath)
	rewritten := scrape.EncodeVideoVariantList([]scrape.VideoVariant{{Quality: t.quality, URL: localURL}})
	media.PreviewVideoURLs = rewritten
	return c.repo.UpdateMedia(ctx, media.ID, map[string]interface{}{"preview_video_urls": rewritten})
}

func imagePath(mediaID, field string, index int) string {
	name := field
	if field != "poster" {
		name = fmt.Sprintf("%s_%d", field, index)
	}
	return filepath.Join("images", "media", mediaID, name+".webp")
}

func videoExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ".mp4"
	}
	if ext := filepath.Ext(parsed.Path); ext != "" {
		return ext
	}
	return ".mp4"
}
