package scrape

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/plugin"
	"github.com/ashbourne-dev/reelvault/internal/session"
)

func newTestRepo(t *testing.T) *database.Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	repo, err := database.NewRepository(db)
	require.NoError(t, err)
	return repo
}

// installPlugin writes a plugin directory (manifest plus shell executable)
// under root, the same layout the registry scans in production.
func installPlugin(t *testing.T, root, id string, capabilities []string, script string) {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(dir, 0755))

	capList := ""
	for i, c := range capabilities {
		if i > 0 {
			capList += ", "
		}
		capList += fmt.Sprintf("%q", c)
	}
	manifest := fmt.Sprintf(`
#Plugin: {
	id: %q
	name: %q
	version: "1.0.0"
	executable: "plugin.sh"
	capabilities: [%s]
}
`, id, id, capList)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.cue"), []byte(manifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.sh"), []byte("#!/bin/sh\n"+script), 0755))
}

func newTestPipeline(t *testing.T, repo *database.Repository, pluginRoot string) (*Pipeline, *session.Store) {
	t.Helper()
	registry, err := plugin.NewRegistry(pluginRoot, false)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })

	host := plugin.NewHost(5*time.Second, 5*time.Second, 100*time.Millisecond)
	sessions := session.NewStore(0)
	return New(repo, registry, host, sessions, nil, nil), sessions
}

func waitForCompletion(t *testing.T, sessions *session.Store, id string) *session.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		snap := sessions.Get(id)
		return snap != nil && snap.Completed
	}, 10*time.Second, 20*time.Millisecond)
	return sessions.Get(id)
}

// One mixed batch: the plugin succeeds on m1, flags m2 failed. The session
// closes with one success and one failure, and m1's empty title is filled
// under supplement mode.
func TestBatchScrapeMedia_MixedResults(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "", Code: "ABC-123"}))
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m2", Title: "", Code: "DEF-456"}))

	root := t.TempDir()
	installPlugin(t, root, "media_scraper", []string{"scrape_media", "batch_scrape_media"}, `
read line
echo 'PROGRESS:{"current":1,"total":2,"item_name":"ABC-123","status":"scraping"}' >&2
echo 'PROGRESS:{"current":1,"total":2,"item_name":"ABC-123","status":"completed"}' >&2
echo 'PROGRESS:{"current":2,"total":2,"item_name":"DEF-456","status":"failed","error":"no match"}' >&2
echo '{"success":true,"data":[{"media_id":"m1","success":true,"data":{"title":"X","year":2024,"source":"testsrc"}},{"media_id":"m2","success":false}]}'
`)
	pipeline, sessions := newTestPipeline(t, repo, root)

	sessionID, err := pipeline.BatchScrapeMedia([]string{"m1", "m2"}, ModeSupplement, false, "", "")
	require.NoError(t, err)

	snap := waitForCompletion(t, sessions, sessionID)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.SuccessCount)
	assert.Equal(t, 1, snap.FailedCount)

	m1, err := repo.GetMedia(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "X", m1.Title)
	assert.Equal(t, "testsrc", m1.ScraperSource)
	assert.True(t, m1.Matched)
}

// A batch response with fewer rows than targets counts every missing
// target as failed.
func TestBatchScrapeMedia_MissingRowsCountAsFailed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "t1", Code: "ABC-123"}))
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m2", Title: "t2", Code: "DEF-456"}))
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m3", Title: "t3", Code: "GHI-789"}))

	root := t.TempDir()
	installPlugin(t, root, "media_scraper", []string{"batch_scrape_media"}, `
read line
echo '{"success":true,"data":[{"media_id":"m1","success":true,"data":{"title":"New"}}]}'
`)
	pipeline, sessions := newTestPipeline(t, repo, root)

	sessionID, err := pipeline.BatchScrapeMedia([]string{"m1", "m2", "m3"}, ModeReplace, false, "", "")
	require.NoError(t, err)

	snap := waitForCompletion(t, sessions, sessionID)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.SuccessCount)
	assert.Equal(t, 2, snap.FailedCount)
	assert.Equal(t, snap.Total, snap.SuccessCount+snap.FailedCount)
}

// A media row lacking code, (series, release_date), and title never
// reaches the plugin; it is counted failed upfront.
func TestBatchScrapeMedia_UnkeyedMediaFailsUpfront(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateMedia(context.Background(), &database.Media{ID: "bare", Title: ""}))

	pipeline, sessions := newTestPipeline(t, repo, t.TempDir())

	sessionID, err := pipeline.BatchScrapeMedia([]string{"bare", "ghost"}, ModeReplace, false, "", "")
	require.NoError(t, err)

	snap := waitForCompletion(t, sessions, sessionID)
	assert.Equal(t, session.StatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.FailedCount)
	assert.Equal(t, 0, snap.SuccessCount)
}

func TestSearchMagnets_SiteBreakdownAndDedupedResults(t *testing.T) {
	repo := newTestRepo(t)

	root := t.TempDir()
	installPlugin(t, root, "magnet_scraper", []string{"search_magnets"}, `
read line
echo 'PROGRESS:{"site_name":"A","status":"searching"}' >&2
echo 'PROGRESS:{"site_name":"A","status":"completed","result_count":3}' >&2
echo 'PROGRESS:{"site_name":"B","status":"skipped"}' >&2
echo '{"success":true,"data":[{"title":"one","magnet_link":"magnet:?xt=urn:btih:AAA111&dn=one"},{"title":"two","magnet_link":"magnet:?xt=urn:btih:aaa111&dn=two"},{"title":"three","magnet_link":"invalid"}]}'
`)
	pipeline, sessions := newTestPipeline(t, repo, root)

	sessionID, err := pipeline.SearchMagnets("", "ipz-999")
	require.NoError(t, err)

	snap := waitForCompletion(t, sessions, sessionID)
	assert.Equal(t, session.StatusCompleted, snap.Status)

	require.Len(t, snap.Sites, 2)
	assert.Equal(t, "A", snap.Sites[0].SiteName)
	assert.Equal(t, "completed", snap.Sites[0].Status)
	assert.Equal(t, 3, snap.Sites[0].ResultCount)
	assert.Equal(t, "B", snap.Sites[1].SiteName)

	results, ok := snap.Results.([]MagnetResult)
	require.True(t, ok)
	require.Len(t, results, 2, "case-insensitive hash duplicate must collapse, unparseable magnet must survive")
	assert.Equal(t, "one", results[0].Title)
	assert.Equal(t, "three", results[1].Title)
}

// A hung batch plugin is killed by the inactivity watchdog and the session
// fails with a timeout message.
func TestBatchScrapeMedia_HungPluginFailsSession(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "t", Code: "ABC-123"}))

	root := t.TempDir()
	installPlugin(t, root, "media_scraper", []string{"batch_scrape_media"}, `
read line
echo 'PROGRESS:{"current":0,"total":1,"item_name":"ABC-123","status":"scraping"}' >&2
sleep 30
`)

	registry, err := plugin.NewRegistry(root, false)
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	host := plugin.NewHost(100*time.Millisecond, 300*time.Millisecond, 50*time.Millisecond)
	sessions := session.NewStore(0)
	pipeline := New(repo, registry, host, sessions, nil, nil)

	sessionID, err := pipeline.BatchScrapeMedia([]string{"m1"}, ModeReplace, false, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := sessions.Get(sessionID)
		return snap != nil && snap.Status == session.StatusFailed
	}, 10*time.Second, 20*time.Millisecond)

	snap := sessions.Get(sessionID)
	assert.Contains(t, snap.Message, "timeout")
	// Partial progress observed before the hang is preserved.
	assert.Equal(t, 1, snap.Total)
}

func TestCancelSession_KillsPluginAndFailsWithCancelled(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "t", Code: "ABC-123"}))

	root := t.TempDir()
	installPlugin(t, root, "media_scraper", []string{"batch_scrape_media"}, `
read line
echo 'PROGRESS:{"current":0,"total":1,"item_name":"ABC-123","status":"scraping"}' >&2
sleep 30
`)
	pipeline, sessions := newTestPipeline(t, repo, root)

	sessionID, err := pipeline.BatchScrapeMedia([]string{"m1"}, ModeReplace, false, "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := sessions.Get(sessionID)
		return snap != nil && snap.Current >= 0 && len(snap.Message) > 0
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, sessions.Cancel(sessionID))

	snap := sessions.Get(sessionID)
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.Equal(t, "cancelled", snap.Message)
}

// Importing an array with create_new mints one media row per element (S4's
// second leg).
func TestImportResults_CreateNew(t *testing.T) {
	repo := newTestRepo(t)
	pipeline := New(repo, nil, nil, session.NewStore(0), nil, nil)

	summary, err := pipeline.ImportResults(context.Background(), []Payload{{Title: "A"}, {Title: "B", Year: 2020}}, "", ModeReplace, true)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, summary.Outcomes, 2)

	created, err := repo.GetMedia(context.Background(), summary.Outcomes[0].MediaID)
	require.NoError(t, err)
	assert.Equal(t, "A", created.Title)
	assert.True(t, created.Matched)
}

func TestImportResults_ApplyOntoExistingRow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "Old", Code: "ABC-123"}))

	pipeline := New(repo, nil, nil, session.NewStore(0), nil, nil)

	summary, err := pipeline.ImportResults(ctx, []Payload{{Title: "New", Overview: "plot"}}, "m1", ModeReplace, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)

	m1, err := repo.GetMedia(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "New", m1.Title)
	assert.Equal(t, "plot", m1.Overview)
}

// Applying a payload with actors links each one exactly once, however many
// times the same result is re-applied (P8).
func TestApplyAndPersist_ActorLinksAreIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateMedia(ctx, &database.Media{ID: "m1", Title: "t", Code: "ABC-123"}))

	pipeline := New(repo, nil, nil, session.NewStore(0), nil, nil)
	media, err := repo.GetMedia(ctx, "m1")
	require.NoError(t, err)

	payload := &Payload{Title: "t", Actors: []string{"Jane Doe", "Jane Doe"}}
	require.NoError(t, pipeline.applyAndPersist(ctx, media, ModeReplace, payload))
	require.NoError(t, pipeline.applyAndPersist(ctx, media, ModeReplace, payload))

	var count int64
	require.NoError(t, repo.DB().Model(&database.ActorMediaLink{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestNewFileTarget_PrecedenceOrder(t *testing.T) {
	date := time.Date(2024, 5, 5, 0, 0, 0, 0, time.UTC)

	code, ok := NewFileTarget(&database.ScannedFile{CodeHint: "ABC-123", SeriesHint: "Show", DateHint: &date, TitleHint: "Ep"})
	require.True(t, ok)
	assert.Equal(t, TargetCode, code.Kind)

	seriesDate, ok := NewFileTarget(&database.ScannedFile{SeriesHint: "Show", DateHint: &date, TitleHint: "Ep"})
	require.True(t, ok)
	assert.Equal(t, TargetSeriesDate, seriesDate.Kind)

	seriesTitle, ok := NewFileTarget(&database.ScannedFile{SeriesHint: "Show", TitleHint: "Ep"})
	require.True(t, ok)
	assert.Equal(t, TargetSeriesTitle, seriesTitle.Kind)

	titleYear, ok := NewFileTarget(&database.ScannedFile{TitleHint: "Some Movie", YearHint: 2020})
	require.True(t, ok)
	assert.Equal(t, TargetTitleYear, titleYear.Kind)
	assert.Equal(t, 2020, titleYear.Year)

	_, ok = NewFileTarget(&database.ScannedFile{})
	assert.False(t, ok)
}

// AutoScrapeUnmatched creates unmatched rows for unknown files, groups
// multi-part files onto one row, and runs them as a single batch.
func TestAutoScrapeUnmatched_CreatesRowsAndScrapes(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	root := t.TempDir()
	installPlugin(t, root, "media_scraper", []string{"batch_scrape_media"}, `
read line
echo '{"success":true,"data":[]}'
`)
	pipeline, sessions := newTestPipeline(t, repo, root)

	files := []*database.ScannedFile{
		{ID: "f1", Path: "/lib/ABC-123 part1.mkv", CodeHint: "ABC-123"},
		{ID: "f2", Path: "/lib/ABC-123 part2.mkv", CodeHint: "ABC-123"},
		{ID: "f3", Path: "/lib/Standalone (2020).mkv", TitleHint: "Standalone", YearHint: 2020},
	}
	for _, f := range files {
		require.NoError(t, repo.DB().Create(f).Error)
	}

	sessionID, err := pipeline.AutoScrapeUnmatched(
		[]*database.ScannedFile{files[2]},
		[]FileGroup{{Name: "ABC-123", Files: files[:2]}},
		false, "")
	require.NoError(t, err)

	snap := waitForCompletion(t, sessions, sessionID)
	assert.Equal(t, 2, snap.Total)

	// Both parts of the group resolve to one media row.
	var f1, f2 database.ScannedFile
	require.NoError(t, repo.DB().First(&f1, "id = ?", "f1").Error)
	require.NoError(t, repo.DB().First(&f2, "id = ?", "f2").Error)
	require.NotNil(t, f1.MediaID)
	require.NotNil(t, f2.MediaID)
	assert.Equal(t, *f1.MediaID, *f2.MediaID)

	group, err := repo.GetMedia(ctx, *f1.MediaID)
	require.NoError(t, err)
	assert.Equal(t, "ABC-123", group.Code)
}
