package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashbourne-dev/reelvault/internal/apperrors"
	"github.com/ashbourne-dev/reelvault/internal/scrape"
)

// respondError renders an AppError with its own HTTP status and anything
// else as a 500. Plugin failures carry 502 on the AppError, which is how
// they surface directly per the status-code policy.
func respondError(c *gin.Context, err error) {
	if appErr, ok := err.(*apperrors.AppError); ok {
		appErr.ToGinResponse(c)
		return
	}
	apperrors.HandleInternalError(c, "unexpected error", err)
}

func parseMode(c *gin.Context, raw string) (scrape.MergeMode, bool) {
	if raw == "" {
		raw = string(scrape.ModeReplace)
	}
	mode, err := scrape.ParseMergeMode(raw)
	if err != nil {
		apperrors.HandleValidationError(c, err.Error(), "mode")
		return "", false
	}
	return mode, true
}

type scrapeMediaRequest struct {
	Mode        string          `json:"mode"`
	Code        string          `json:"code"`
	ContentType string          `json:"content_type"`
	Series      string          `json:"series"`
	Studio      string          `json:"studio"`
	ReturnMode  string          `json:"return_mode"`
	FieldSource string          `json:"field_source"`
	Data        json.RawMessage `json:"data"`
	CreateNew   bool            `json:"create_new"`
}

// handleScrapeMedia is POST /api/scrape/media/:id — the synchronous
// single-target path. Without data it invokes the plugin and either
// applies the single result or returns a multi-result envelope untouched;
// with data it applies (or creates from) the client's earlier selection.
func (s *Server) handleScrapeMedia(c *gin.Context) {
	mediaID := c.Param("id")

	var req scrapeMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	if len(req.Data) > 0 {
		s.applyProvidedData(c, mediaID, req, mode)
		return
	}

	result, media, err := s.pipeline.ScrapeSingleMedia(c.Request.Context(), mediaID, mode, scrape.SingleScrapeOptions{
		Code:        req.Code,
		ContentType: req.ContentType,
		Series:      req.Series,
		Studio:      req.Studio,
		ReturnMode:  req.ReturnMode,
		FieldSource: req.FieldSource,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if result.Kind == scrape.ResultMultiple {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"mode":        "multiple",
			"results":     result.Multiple,
			"total_count": result.TotalCount,
			"message":     result.Message,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": media})
}

// applyProvidedData handles the second leg of the multi-result flow: the
// client POSTs back the result(s) it picked. An array with create_new
// creates one media per element; a single object updates the addressed row.
func (s *Server) applyProvidedData(c *gin.Context, mediaID string, req scrapeMediaRequest, mode scrape.MergeMode) {
	payloads, wasArray, err := scrape.DecodePayloads(req.Data)
	if err != nil {
		apperrors.HandleValidationError(c, "invalid data: "+err.Error(), "data")
		return
	}
	if len(payloads) == 0 {
		apperrors.HandleValidationError(c, "data must carry at least one result", "data")
		return
	}

	if req.CreateNew && wasArray {
		summary, err := s.pipeline.ImportResults(c.Request.Context(), payloads, "", mode, true)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":        summary.Failed == 0,
			"imported_count": summary.Imported,
			"failed_count":   summary.Failed,
			"results":        summary.Outcomes,
		})
		return
	}

	media, err := s.pipeline.ApplyProvidedPayload(c.Request.Context(), mediaID, &payloads[0], mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": media})
}

type batchScrapeMediaRequest struct {
	MediaIDs    []string `json:"media_ids"`
	Mode        string   `json:"mode"`
	Concurrent  bool     `json:"concurrent"`
	ScrapeMode  string   `json:"scrape_mode"`
	ContentType string   `json:"content_type"`
}

// handleBatchScrapeMedia is POST /api/scrape/media/batch. The session ID
// comes back immediately; progress is polled.
func (s *Server) handleBatchScrapeMedia(c *gin.Context) {
	var req batchScrapeMediaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	if len(req.MediaIDs) == 0 {
		apperrors.HandleValidationError(c, "media_ids must not be empty", "media_ids")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	sessionID, err := s.pipeline.BatchScrapeMedia(req.MediaIDs, mode, req.Concurrent, req.ScrapeMode, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID, "message": "batch scrape started"})
}

type batchImportRequest struct {
	SelectedResults json.RawMessage `json:"selected_results"`
	MediaID         string          `json:"media_id"`
	Mode            string          `json:"mode"`
	CreateNew       bool            `json:"create_new"`
}

// handleBatchImport is POST /api/scrape/media/batch-import: persist the
// subset of multi-result candidates the client selected.
func (s *Server) handleBatchImport(c *gin.Context) {
	var req batchImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	if len(req.SelectedResults) == 0 {
		apperrors.HandleValidationError(c, "selected_results is required", "selected_results")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	payloads, _, err := scrape.DecodePayloads(req.SelectedResults)
	if err != nil {
		apperrors.HandleValidationError(c, "invalid selected_results: "+err.Error(), "selected_results")
		return
	}

	createNew := req.CreateNew || req.MediaID == ""
	summary, err := s.pipeline.ImportResults(c.Request.Context(), payloads, req.MediaID, mode, createNew)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        summary.Failed == 0,
		"imported_count": summary.Imported,
		"failed_count":   summary.Failed,
		"results":        summary.Outcomes,
		"message":        "import finished",
	})
}

type scrapeActorRequest struct {
	Mode string `json:"mode"`
	Name string `json:"name"`
}

// handleScrapeActor is POST /api/scrape/actor/:id, the synchronous
// single-actor path.
func (s *Server) handleScrapeActor(c *gin.Context) {
	actorID := c.Param("id")

	var req scrapeActorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	name := req.Name
	if name == "" {
		actor, err := s.repo.GetActor(c.Request.Context(), actorID)
		if err != nil {
			apperrors.HandleNotFound(c, "actor", actorID)
			return
		}
		name = actor.Name
	}

	actor, err := s.pipeline.ScrapeSingleActor(c.Request.Context(), name, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": actor})
}

type batchScrapeActorsRequest struct {
	ActorIDs   []string `json:"actor_ids"`
	Mode       string   `json:"mode"`
	Concurrent bool     `json:"concurrent"`
}

// handleBatchScrapeActors is POST /api/scrape/actor/batch. Unknown actor
// IDs are dropped here; the session accounts only for resolvable names.
func (s *Server) handleBatchScrapeActors(c *gin.Context) {
	var req batchScrapeActorsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	if len(req.ActorIDs) == 0 {
		apperrors.HandleValidationError(c, "actor_ids must not be empty", "actor_ids")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	names := make([]string, 0, len(req.ActorIDs))
	for _, id := range req.ActorIDs {
		actor, err := s.repo.GetActor(c.Request.Context(), id)
		if err != nil {
			continue
		}
		names = append(names, actor.Name)
	}
	if len(names) == 0 {
		apperrors.HandleValidationError(c, "no actor_ids resolved to known actors", "actor_ids")
		return
	}

	sessionID, err := s.pipeline.BatchScrapeActors(names, mode, req.Concurrent)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID, "message": "batch actor scrape started"})
}

// handleProgress serves both GET /api/scrape/progress/:session_id and its
// magnet-flavored twin — the snapshot carries whichever fields the session
// kind populated.
func (s *Server) handleProgress(c *gin.Context) {
	sessionID := c.Param("session_id")
	snap := s.sessions.Get(sessionID)
	if snap == nil {
		apperrors.HandleNotFound(c, "session", sessionID)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleCancelSession is POST /api/scrape/cancel/:session_id.
func (s *Server) handleCancelSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	if !s.sessions.Cancel(sessionID) {
		apperrors.HandleNotFound(c, "session", sessionID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "session cancelled"})
}

// handleSearchMagnets is GET /api/scrape/magnets/:plugin_id?q=…
func (s *Server) handleSearchMagnets(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		apperrors.HandleValidationError(c, "q is required", "q")
		return
	}

	sessionID, err := s.pipeline.SearchMagnets(c.Param("plugin_id"), query)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID, "message": "magnet search started"})
}

type autoScrapeRequest struct {
	Limit       int    `json:"limit"`
	Mode        string `json:"mode"`
	Concurrent  bool   `json:"concurrent"`
	ContentType string `json:"content_type"`
}

// handleAutoScrape is POST /api/scrape/auto: batch-scrape every catalog row
// not yet matched to an external source.
func (s *Server) handleAutoScrape(c *gin.Context) {
	var req autoScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	mode, ok := parseMode(c, req.Mode)
	if !ok {
		return
	}

	rows, err := s.repo.UnmatchedMedia(c.Request.Context(), req.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusOK, gin.H{"success": true, "session_id": "", "message": "no unmatched media"})
		return
	}

	sessionID, err := s.pipeline.BatchScrapeMedia(ids, mode, req.Concurrent, "", req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session_id": sessionID, "message": "auto scrape started"})
}
