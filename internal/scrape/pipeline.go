package scrape

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashbourne-dev/reelvault/internal/apperrors"
	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/events"
	"github.com/ashbourne-dev/reelvault/internal/logger"
	"github.com/ashbourne-dev/reelvault/internal/plugin"
	"github.com/ashbourne-dev/reelvault/internal/session"
)

const (
	defaultMediaScraperID  = "media_scraper"
	defaultMagnetScraperID = "magnet_scraper"
)

// AssetEngager is the Asset Cache's (C5) entry point as seen by the
// Pipeline: given the scraper that produced a media row's current URLs,
// detect and cache any ephemeral ones, rewriting the row in place. Defined
// here rather than imported from internal/assetcache because assetcache
// itself imports scrape, so the reverse import would be a cycle; main.go
// wires the concrete implementation in.
type AssetEngager interface {
	EngageMedia(ctx context.Context, scraperName string, media *database.Media) error
}

// Pipeline is the Scrape Pipeline (C4): the coordination core that fans
// targets to plugins through the Host and Registry, streams progress into
// the Session Store, and applies results to the repository.
type Pipeline struct {
	repo     *database.Repository
	registry *plugin.Registry
	host     *plugin.Host
	sessions *session.Store
	assets   AssetEngager
	bus      events.EventBus
}

// New builds a Pipeline. assets may be nil, in which case scraped URLs are
// left pointing at the upstream source (the same outcome as a Cache
// failure); bus may be nil to disable event publication.
func New(repo *database.Repository, registry *plugin.Registry, host *plugin.Host, sessions *session.Store, assets AssetEngager, bus events.EventBus) *Pipeline {
	return &Pipeline{repo: repo, registry: registry, host: host, sessions: sessions, assets: assets, bus: bus}
}

// Sessions exposes the session store for the progress-polling handlers.
func (p *Pipeline) Sessions() *session.Store {
	return p.sessions
}

func (p *Pipeline) publish(eventType events.EventType, data map[string]interface{}) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{Type: eventType, Data: data})
}

// selectPlugin picks the plugin to invoke: the conventional default ID if
// it advertises one of the wanted capabilities, else the first plugin the
// registry returns for it; that order is map order, so which one is picked
// is not defined when several match. Capabilities are tried in order, so a batch entrypoint
// can prefer the batch capability and fall back to the single one.
func (p *Pipeline) selectPlugin(preferredID string, caps ...plugin.Capability) (*plugin.Manifest, error) {
	preferred := p.registry.Find(preferredID)
	for _, cap := range caps {
		if preferred != nil && preferred.HasCapability(cap) {
			return preferred, nil
		}
	}
	for _, cap := range caps {
		if candidates := p.registry.FindByCapability(cap); len(candidates) > 0 {
			return candidates[0], nil
		}
	}
	return nil, apperrors.NewExternalServiceError(preferredID, string(caps[0]),
		fmt.Errorf("no registered plugin advertises capability %q", caps[0]))
}

func mediaIdentityFromRow(media *database.Media) mediaIdentity {
	var seriesName string
	if media.Series != nil {
		seriesName = media.Series.Name
	}
	var studioName string
	if media.Studio != nil {
		studioName = media.Studio.Name
	}
	return mediaIdentity{
		MediaID:     media.ID,
		Code:        media.Code,
		SeriesName:  seriesName,
		ReleaseDate: media.ReleaseDate,
		Title:       media.Title,
		ContentType: ContentType(media.MediaType),
		Studio:      studioName,
		Series:      seriesName,
	}
}

// SingleScrapeOptions are the per-request overrides a client may send with
// a single-media scrape. Non-empty identity fields override what the
// catalog row would have contributed to the target; ReturnMode "multiple"
// asks the plugin for a disambiguation envelope instead of its best match.
type SingleScrapeOptions struct {
	Code        string
	ContentType string
	Series      string
	Studio      string
	ReturnMode  string
	FieldSource string
}

// ScrapeSingleMedia is entrypoint 1: the synchronous fast path for one
// media row. It blocks for the duration of one plugin invocation and
// returns the refreshed row, or a multi-result envelope (with a nil media)
// for the client to disambiguate — the envelope case writes nothing.
func (p *Pipeline) ScrapeSingleMedia(ctx context.Context, mediaID string, mode MergeMode, opts SingleScrapeOptions) (*ScrapeResult, *database.Media, error) {
	media, err := p.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, nil, apperrors.NewNotFoundError("media", mediaID)
	}

	identity := mediaIdentityFromRow(media)
	if opts.Code != "" {
		identity.Code = opts.Code
	}
	if opts.ContentType != "" {
		identity.ContentType = ContentType(opts.ContentType)
	}
	if opts.Series != "" {
		identity.SeriesName = opts.Series
		identity.Series = opts.Series
	}
	if opts.Studio != "" {
		identity.Studio = opts.Studio
	}

	target, ok := NewMediaTarget(identity)
	if !ok {
		return nil, nil, apperrors.NewValidationError("media has no code, (series, release_date), or title to scrape by", "media_id")
	}

	manifest, err := p.selectPlugin(defaultMediaScraperID, plugin.CapabilityScrapeMedia)
	if err != nil {
		return nil, nil, err
	}

	resp, err := p.host.Invoke(ctx, manifest, getRequest(target, opts.ReturnMode, opts.FieldSource), nil)
	if err != nil {
		return nil, nil, err
	}

	result, err := decodeScrapeResult(resp)
	if err != nil {
		return nil, nil, apperrors.NewExternalServiceError(manifest.ID, string(plugin.ActionGet), err)
	}
	if result.Kind == ResultMultiple {
		return result, nil, nil
	}

	if err := p.applyAndPersist(ctx, media, mode, result.Single); err != nil {
		return nil, nil, err
	}
	fresh, err := p.repo.GetMedia(ctx, media.ID)
	if err != nil {
		return nil, nil, apperrors.NewDatabaseError("reload media", err)
	}
	return result, fresh, nil
}

// ApplyProvidedPayload writes a client-chosen payload (from an earlier
// multi-result envelope) onto an existing media row under mode.
func (p *Pipeline) ApplyProvidedPayload(ctx context.Context, mediaID string, payload *Payload, mode MergeMode) (*database.Media, error) {
	media, err := p.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, apperrors.NewNotFoundError("media", mediaID)
	}
	if err := p.applyAndPersist(ctx, media, mode, payload); err != nil {
		return nil, err
	}
	fresh, err := p.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("reload media", err)
	}
	return fresh, nil
}

// CreateFromPayload creates a fresh media row from a client-chosen payload.
func (p *Pipeline) CreateFromPayload(ctx context.Context, payload *Payload) (*database.Media, error) {
	title := payload.Title
	if title == "" {
		title = payload.Code
	}
	if title == "" {
		return nil, apperrors.NewValidationError("selected result has neither title nor code", "data")
	}

	media := &database.Media{Title: title, Matched: true}
	if err := p.repo.CreateMedia(ctx, media); err != nil {
		return nil, apperrors.NewDatabaseError("create media", err)
	}
	if err := p.applyAndPersist(ctx, media, ModeReplace, payload); err != nil {
		return nil, err
	}
	fresh, err := p.repo.GetMedia(ctx, media.ID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("reload media", err)
	}
	return fresh, nil
}

// ImportOutcome is the per-result report of an ImportResults call.
type ImportOutcome struct {
	MediaID string `json:"media_id,omitempty"`
	Title   string `json:"title,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ImportSummary aggregates an ImportResults call.
type ImportSummary struct {
	Imported int             `json:"imported_count"`
	Failed   int             `json:"failed_count"`
	Outcomes []ImportOutcome `json:"results"`
}

// ImportResults applies payloads a client selected out of a multi-result
// envelope. With createNew (or no mediaID) every payload becomes a new
// media row; otherwise each payload is applied onto the named row under
// mode. One bad payload fails only itself.
func (p *Pipeline) ImportResults(ctx context.Context, payloads []Payload, mediaID string, mode MergeMode, createNew bool) (*ImportSummary, error) {
	if len(payloads) == 0 {
		return nil, apperrors.NewValidationError("selected_results must not be empty", "selected_results")
	}

	summary := &ImportSummary{}
	record := func(media *database.Media, title string, err error) {
		outcome := ImportOutcome{Title: title, Success: err == nil}
		if media != nil {
			outcome.MediaID = media.ID
			if outcome.Title == "" {
				outcome.Title = media.Title
			}
		}
		if err != nil {
			outcome.Error = err.Error()
			summary.Failed++
		} else {
			summary.Imported++
		}
		summary.Outcomes = append(summary.Outcomes, outcome)
	}

	if createNew || mediaID == "" {
		for i := range payloads {
			media, err := p.CreateFromPayload(ctx, &payloads[i])
			record(media, payloads[i].Title, err)
		}
		return summary, nil
	}

	media, err := p.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return nil, apperrors.NewNotFoundError("media", mediaID)
	}
	for i := range payloads {
		err := p.applyAndPersist(ctx, media, mode, &payloads[i])
		record(media, payloads[i].Title, err)
	}
	return summary, nil
}

// applyAndPersist applies payload onto media under mode, resolves Studio/
// Series foreign keys, writes the row back, performs actor sync, and
// engages the asset cache — the shared tail of every write path.
func (p *Pipeline) applyAndPersist(ctx context.Context, media *database.Media, mode MergeMode, payload *Payload) error {
	changed := ApplyResult(mode, media, payload)

	if payload.Studio != "" && (mode == ModeReplace || media.StudioID == nil) {
		studio, err := p.repo.FindOrCreateStudioByName(ctx, payload.Studio)
		if err == nil && (media.StudioID == nil || *media.StudioID != studio.ID) {
			media.StudioID = &studio.ID
			changed = true
		}
	}
	if payload.Series != "" && (mode == ModeReplace || media.SeriesID == nil) {
		series, err := p.repo.FindOrCreateSeriesByName(ctx, payload.Series)
		if err == nil && (media.SeriesID == nil || *media.SeriesID != series.ID) {
			media.SeriesID = &series.ID
			changed = true
		}
	}

	if !media.Matched {
		media.Matched = true
		changed = true
	}
	if payload.Source != "" && media.ScraperSource != payload.Source {
		media.ScraperSource = payload.Source
		changed = true
	}

	if changed {
		if err := p.repo.UpdateMedia(ctx, media.ID, mediaUpdateMap(media)); err != nil {
			return apperrors.NewDatabaseError("update media", err)
		}
	}

	for _, name := range payload.Actors {
		if name == "" {
			continue
		}
		actor, err := p.repo.FindOrCreateActorByName(ctx, name)
		if err != nil {
			continue
		}
		_ = p.repo.LinkActorToMedia(ctx, actor.ID, media.ID)
	}

	if p.assets != nil {
		// Cache failures are recovered silently per the error-kind
		// propagation policy: the row keeps its upstream URL.
		if err := p.assets.EngageMedia(ctx, payload.Source, media); err != nil {
			logger.Warn("asset cache engagement failed, keeping upstream URLs",
				logger.String("media_id", media.ID),
				logger.Err("error", err),
			)
		}
	}

	p.publish(events.EventMediaEnriched, map[string]interface{}{
		"media_id": media.ID,
		"source":   payload.Source,
		"mode":     string(mode),
	})

	return nil
}

func mediaUpdateMap(media *database.Media) map[string]interface{} {
	return map[string]interface{}{
		"code":               media.Code,
		"title":              media.Title,
		"original_title":     media.OriginalTitle,
		"overview":           media.Overview,
		"release_date":       media.ReleaseDate,
		"media_type":         media.MediaType,
		"rating":             media.Rating,
		"runtime":            media.Runtime,
		"language":           media.Language,
		"country":            media.Country,
		"poster_url":         media.PosterURL,
		"backdrop_url":       media.BackdropURL,
		"cover_url":          media.CoverURL,
		"trailer_url":        media.TrailerURL,
		"genres":             media.Genres,
		"preview_urls":       media.PreviewURLs,
		"preview_video_urls": media.PreviewVideoURLs,
		"download_links":     media.DownloadLinks,
		"crew":               media.Crew,
		"studio_id":          media.StudioID,
		"series_id":          media.SeriesID,
		"matched":            media.Matched,
		"scraper_source":     media.ScraperSource,
		"updated_at":         media.UpdatedAt,
	}
}

// resolvedTarget pairs a catalog row with the target assembled for it.
type resolvedTarget struct {
	media  *database.Media
	target ScrapeTarget
}

// BatchScrapeMedia is entrypoint 2. It assembles one target per media_id
// (failing upfront any media lacking all key variants), mints a session,
// and detaches the plugin invocation and result application onto a
// background task.
func (p *Pipeline) BatchScrapeMedia(mediaIDs []string, mode MergeMode, concurrent bool, scrapeMode, contentType string) (string, error) {
	ctx := context.Background()

	var targets []resolvedTarget
	upfrontFailures := 0
	for _, id := range mediaIDs {
		media, err := p.repo.GetMedia(ctx, id)
		if err != nil {
			upfrontFailures++
			continue
		}
		identity := mediaIdentityFromRow(media)
		if contentType != "" && identity.ContentType == ContentTypeUnset {
			identity.ContentType = ContentType(contentType)
		}
		target, ok := NewMediaTarget(identity)
		if !ok {
			upfrontFailures++
			continue
		}
		targets = append(targets, resolvedTarget{media: media, target: target})
	}

	return p.startMediaBatch(targets, len(mediaIDs), upfrontFailures, mode, concurrent, scrapeMode)
}

// startMediaBatch mints the session and detaches the batch task — the
// shared tail of BatchScrapeMedia and AutoScrapeUnmatched.
func (p *Pipeline) startMediaBatch(targets []resolvedTarget, total, upfrontFailures int, mode MergeMode, concurrent bool, scrapeMode string) (string, error) {
	// Sessions outlive the HTTP request that created them (a dropped
	// client connection does not cancel a session), so the background
	// task gets its own cancellable context rather than the request's.
	taskCtx, cancel := context.WithCancel(context.Background())
	sessionID := p.sessions.Create(total, concurrent, cancel)
	if upfrontFailures > 0 {
		p.sessions.Mutate(sessionID, func(s *session.Snapshot) {
			s.FailedCount += upfrontFailures
		})
	}
	if len(targets) == 0 {
		p.sessions.Complete(sessionID)
		return sessionID, nil
	}

	manifest, err := p.selectPlugin(defaultMediaScraperID, plugin.CapabilityBatchScrapeMedia, plugin.CapabilityScrapeMedia)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return sessionID, nil
	}

	mediaByID := make(map[string]*database.Media, len(targets))
	items := make([]plugin.BatchMediaItem, 0, len(targets))
	for _, r := range targets {
		mediaByID[r.media.ID] = r.media
		items = append(items, batchItem(r.target))
	}

	go p.runBatchMedia(taskCtx, sessionID, manifest, items, mediaByID, mode, concurrent, scrapeMode)
	return sessionID, nil
}

func (p *Pipeline) runBatchMedia(ctx context.Context, sessionID string, manifest *plugin.Manifest, items []plugin.BatchMediaItem, mediaByID map[string]*database.Media, mode MergeMode, concurrent bool, scrapeMode string) {
	defer func() {
		if r := recover(); r != nil {
			p.sessions.Fail(sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	defer p.publishSessionCompleted(sessionID)

	progress := newScrapeProgress(p.sessions, sessionID)
	req := plugin.Request{
		Action:     plugin.ActionBatchScrapeMedia,
		MediaList:  items,
		Concurrent: &concurrent,
		ScrapeMode: scrapeMode,
	}

	resp, err := p.host.Invoke(ctx, manifest, req, progress.consume)
	if err != nil {
		if ctx.Err() == context.Canceled {
			p.sessions.Fail(sessionID, "cancelled")
		} else {
			p.sessions.Fail(sessionID, err.Error())
		}
		return
	}

	rows, err := decodeBatchRows(resp)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return
	}

	// Every requested media starts unaccounted; only a successfully
	// applied row counts as a success. Rows the plugin never returned,
	// rows it flagged failed, and rows that failed to apply all land on
	// the failed side when the books are closed.
	applied := 0
	for _, row := range rows {
		media, ok := mediaByID[row.MediaID]
		if !ok || !row.Success || len(row.Data) == 0 {
			continue
		}
		payload, err := decodePayload(row.Data)
		if err != nil {
			continue
		}
		if err := p.applyAndPersist(ctx, media, mode, payload); err != nil {
			logger.Warn("batch scrape: failed to apply result",
				logger.String("media_id", row.MediaID),
				logger.Err("error", err),
			)
			continue
		}
		applied++
	}

	snap := p.sessions.Get(sessionID)
	total := len(mediaByID)
	if snap != nil {
		total = snap.Total
	}
	progress.finish(applied, fmt.Sprintf("completed: %d succeeded, %d failed", applied, total-applied))
}

func (p *Pipeline) publishSessionCompleted(sessionID string) {
	snap := p.sessions.Get(sessionID)
	if snap == nil {
		return
	}
	p.publish(events.EventScrapeSessionCompleted, map[string]interface{}{
		"session_id":    sessionID,
		"status":        string(snap.Status),
		"success_count": snap.SuccessCount,
		"failed_count":  snap.FailedCount,
	})
}

// ScrapeSingleActor is entrypoint 3, the synchronous fast path for one actor.
func (p *Pipeline) ScrapeSingleActor(ctx context.Context, name string, mode MergeMode) (*database.Actor, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("actor name is required", "name")
	}

	manifest, err := p.selectPlugin(defaultMediaScraperID, plugin.CapabilityScrapeActor)
	if err != nil {
		return nil, err
	}

	resp, err := p.host.Invoke(ctx, manifest, plugin.Request{Action: plugin.ActionScrapeActor, ActorName: name}, nil)
	if err != nil {
		return nil, err
	}

	return p.applyActorPayload(ctx, name, mode, resp.Data)
}

// actorPayload is the subset of scraped actor fields this catalog stores.
type actorPayload struct {
	ImageURL string   `json:"image_url"`
	Aliases  []string `json:"aliases"`
}

// applyActorPayload decodes a plugin's actor result and writes it onto the
// named actor's row under mode, creating the row if it doesn't exist yet.
// Shared by the single and batch actor-scrape paths.
func (p *Pipeline) applyActorPayload(ctx context.Context, name string, mode MergeMode, raw []byte) (*database.Actor, error) {
	var payload actorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.NewExternalServiceError("actor-scraper", string(plugin.ActionScrapeActor), err)
	}

	actor, err := p.repo.FindOrCreateActorByName(ctx, name)
	if err != nil {
		return nil, apperrors.NewDatabaseError("find or create actor", err)
	}

	updates := map[string]interface{}{}
	if payload.ImageURL != "" && (mode == ModeReplace || actor.ImageURL == "") {
		updates["image_url"] = payload.ImageURL
	}
	if len(payload.Aliases) > 0 && (mode == ModeReplace || actor.Aliases == "") {
		updates["aliases"] = encodeJSON(payload.Aliases)
	}
	if len(updates) == 0 {
		return actor, nil
	}
	if err := p.repo.DB().WithContext(ctx).Model(&database.Actor{}).Where("id = ?", actor.ID).Updates(updates).Error; err != nil {
		return nil, apperrors.NewDatabaseError("update actor", err)
	}
	return p.repo.FindOrCreateActorByName(ctx, name)
}

// BatchScrapeActors is entrypoint 4: one batch_scrape_actors request for
// the whole name list, progress streamed into a fresh session.
func (p *Pipeline) BatchScrapeActors(names []string, mode MergeMode, concurrent bool) (string, error) {
	taskCtx, cancel := context.WithCancel(context.Background())
	sessionID := p.sessions.Create(len(names), concurrent, cancel)

	manifest, err := p.selectPlugin(defaultMediaScraperID, plugin.CapabilityBatchScrapeActors, plugin.CapabilityScrapeActor)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return sessionID, nil
	}

	go p.runBatchActors(taskCtx, sessionID, manifest, names, mode, concurrent)
	return sessionID, nil
}

func (p *Pipeline) runBatchActors(ctx context.Context, sessionID string, manifest *plugin.Manifest, names []string, mode MergeMode, concurrent bool) {
	defer func() {
		if r := recover(); r != nil {
			p.sessions.Fail(sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()
	defer p.publishSessionCompleted(sessionID)

	progress := newScrapeProgress(p.sessions, sessionID)
	req := plugin.Request{
		Action:     plugin.ActionBatchScrapeActors,
		ActorNames: names,
		Concurrent: &concurrent,
	}

	resp, err := p.host.Invoke(ctx, manifest, req, progress.consume)
	if err != nil {
		if ctx.Err() == context.Canceled {
			p.sessions.Fail(sessionID, "cancelled")
		} else {
			p.sessions.Fail(sessionID, err.Error())
		}
		return
	}

	rows, err := decodeBatchRows(resp)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	applied := 0
	for _, row := range rows {
		name := row.actorKey()
		if !wanted[name] || !row.Success || len(row.Data) == 0 {
			continue
		}
		if _, err := p.applyActorPayload(ctx, name, mode, row.Data); err != nil {
			logger.Warn("batch actor scrape: failed to apply result",
				logger.String("actor", name),
				logger.Err("error", err),
			)
			continue
		}
		applied++
	}

	progress.finish(applied, fmt.Sprintf("completed: %d succeeded, %d failed", applied, len(names)-applied))
}

// FileGroup is several scanned files that the scanner attributed to one
// release (multi-part files of a single title).
type FileGroup struct {
	Name  string
	Files []*database.ScannedFile
}

// AutoScrapeUnmatched is entrypoint 5: turn scanner output into scrape
// targets — singles and groups alike — resolving or creating an unmatched
// catalog row per target, then run them as one batch. Files whose paths
// yielded no usable hint count as failed without invoking the plugin.
func (p *Pipeline) AutoScrapeUnmatched(files []*database.ScannedFile, groups []FileGroup, concurrent bool, contentType string) (string, error) {
	ctx := context.Background()

	var targets []resolvedTarget
	upfrontFailures := 0

	addTarget := func(lead *database.ScannedFile, members []*database.ScannedFile) {
		target, ok := NewFileTarget(lead)
		if !ok {
			upfrontFailures++
			return
		}
		if contentType != "" {
			target.ContentType = ContentType(contentType)
		}
		media, err := p.resolveFileMedia(ctx, lead, target)
		if err != nil {
			logger.Warn("auto scrape: failed to resolve media for file",
				logger.String("path", lead.Path),
				logger.Err("error", err),
			)
			upfrontFailures++
			return
		}
		target.MediaID = media.ID
		for _, f := range members {
			if err := p.repo.AttachFileToMedia(ctx, f.ID, media.ID); err != nil {
				logger.Warn("auto scrape: failed to attach file to media",
					logger.String("path", f.Path),
					logger.Err("error", err),
				)
			}
		}
		targets = append(targets, resolvedTarget{media: media, target: target})
	}

	for _, f := range files {
		addTarget(f, []*database.ScannedFile{f})
	}
	for _, g := range groups {
		if len(g.Files) == 0 {
			upfrontFailures++
			continue
		}
		lead := g.Files[0]
		if g.Name != "" && lead.TitleHint == "" {
			lead.TitleHint = g.Name
		}
		addTarget(lead, g.Files)
	}

	return p.startMediaBatch(targets, len(files)+len(groups), upfrontFailures, ModeReplace, concurrent, "")
}

// resolveFileMedia finds the catalog row a scanned file belongs to, or
// creates an unmatched one from its hints.
func (p *Pipeline) resolveFileMedia(ctx context.Context, file *database.ScannedFile, target ScrapeTarget) (*database.Media, error) {
	if file.MediaID != nil {
		if media, err := p.repo.GetMedia(ctx, *file.MediaID); err == nil {
			return media, nil
		}
	}
	if target.Code != "" {
		if media, err := p.repo.FindMediaByCode(ctx, target.Code); err == nil && media != nil {
			return media, nil
		}
	}

	title := file.TitleHint
	if title == "" {
		title = target.Code
	}
	if title == "" {
		title = file.SeriesHint
	}
	media := &database.Media{Title: title, Code: target.Code, ReleaseDate: file.DateHint}
	if err := p.repo.CreateMedia(ctx, media); err != nil {
		return nil, err
	}
	return media, nil
}

// SearchMagnets is entrypoint 6. pluginID may be empty to use the
// conventional default magnet scraper.
func (p *Pipeline) SearchMagnets(pluginID, query string) (string, error) {
	if query == "" {
		return "", apperrors.NewValidationError("query is required", "q")
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	sessionID := p.sessions.Create(0, false, cancel)

	if pluginID == "" {
		pluginID = defaultMagnetScraperID
	}
	manifest, err := p.selectPlugin(pluginID, plugin.CapabilitySearchMagnets)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return sessionID, nil
	}

	go p.runMagnetSearch(taskCtx, sessionID, manifest, query)
	return sessionID, nil
}

func (p *Pipeline) runMagnetSearch(ctx context.Context, sessionID string, manifest *plugin.Manifest, query string) {
	defer func() {
		if r := recover(); r != nil {
			p.sessions.Fail(sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	resp, err := p.host.Invoke(ctx, manifest, plugin.Request{Action: plugin.ActionSearchMagnets, Query: query}, magnetProgress(p.sessions, sessionID))
	if err != nil {
		if ctx.Err() == context.Canceled {
			p.sessions.Fail(sessionID, "cancelled")
		} else {
			p.sessions.Fail(sessionID, err.Error())
		}
		return
	}

	results, err := decodeMagnetResults(resp)
	if err != nil {
		p.sessions.Fail(sessionID, err.Error())
		return
	}

	deduped := DedupMagnets(results)
	p.sessions.Mutate(sessionID, func(s *session.Snapshot) {
		s.Results = deduped
		s.Total = len(deduped)
		s.SuccessCount = len(deduped)
		s.Current = len(deduped)
		s.Message = fmt.Sprintf("found %d magnets", len(deduped))
	})
	p.sessions.Complete(sessionID)

	p.publish(events.EventMagnetSearchCompleted, map[string]interface{}{
		"session_id": sessionID,
		"query":      query,
		"results":    len(deduped),
	})
}
