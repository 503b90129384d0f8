package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashbourne-dev/reelvault/internal/apperrors"
	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/scrape"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListPlugins(c *gin.Context) {
	manifests := s.registry.List()
	out := make([]gin.H, 0, len(manifests))
	for _, m := range manifests {
		caps := make([]string, 0, len(m.Capabilities))
		for capability := range m.Capabilities {
			caps = append(caps, string(capability))
		}
		out = append(out, gin.H{
			"id":           m.ID,
			"name":         m.Name,
			"version":      m.Version,
			"capabilities": caps,
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

func (s *Server) handleReloadPlugins(c *gin.Context) {
	if err := s.registry.Reload(); err != nil {
		apperrors.HandleInternalError(c, "failed to reload plugins", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(s.registry.List())})
}

type scanRequest struct {
	Paths       []string `json:"paths"`
	Concurrent  bool     `json:"concurrent"`
	ContentType string   `json:"content_type"`
}

// handleScan is POST /api/scan: record the given paths as scanned files,
// group multi-part files sharing a release code, and hand everything to
// the auto-scrape entrypoint. Responds with the scrape session ID.
func (s *Server) handleScan(c *gin.Context) {
	if s.scanner == nil {
		apperrors.HandleInternalError(c, "scanner not configured", nil)
		return
	}

	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleValidationError(c, "invalid request body: "+err.Error(), "body")
		return
	}
	if len(req.Paths) == 0 {
		apperrors.HandleValidationError(c, "paths must not be empty", "paths")
		return
	}

	files, err := s.scanner.Scan(c.Request.Context(), req.Paths)
	if err != nil {
		apperrors.HandleDatabaseError(c, "record scanned files", err)
		return
	}

	singles, groups := groupScannedFiles(files)
	sessionID, err := s.pipeline.AutoScrapeUnmatched(singles, groups, req.Concurrent, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sessionID,
		"scanned":    len(files),
		"message":    "scan recorded, auto scrape started",
	})
}

// groupScannedFiles buckets files that share a release code into one
// multi-part group each; everything else stays a single.
func groupScannedFiles(files []*database.ScannedFile) ([]*database.ScannedFile, []scrape.FileGroup) {
	byCode := make(map[string][]*database.ScannedFile)
	var order []string
	var singles []*database.ScannedFile

	for _, f := range files {
		if f.CodeHint == "" {
			singles = append(singles, f)
			continue
		}
		if _, seen := byCode[f.CodeHint]; !seen {
			order = append(order, f.CodeHint)
		}
		byCode[f.CodeHint] = append(byCode[f.CodeHint], f)
	}

	var groups []scrape.FileGroup
	for _, code := range order {
		bucket := byCode[code]
		if len(bucket) == 1 {
			singles = append(singles, bucket[0])
			continue
		}
		groups = append(groups, scrape.FileGroup{Name: code, Files: bucket})
	}
	return singles, groups
}

func (s *Server) handleCacheStats(c *gin.Context) {
	if s.cache == nil {
		apperrors.HandleInternalError(c, "asset cache not configured", nil)
		return
	}
	stats, err := s.cache.Stats(c.Request.Context())
	if err != nil {
		apperrors.HandleInternalError(c, "failed to collect cache stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (s *Server) handleCacheClear(c *gin.Context) {
	if s.cache == nil {
		apperrors.HandleInternalError(c, "asset cache not configured", nil)
		return
	}
	if err := s.cache.ClearAll(); err != nil {
		apperrors.HandleInternalError(c, "failed to clear cache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleCacheClearMedia(c *gin.Context) {
	if s.cache == nil {
		apperrors.HandleInternalError(c, "asset cache not configured", nil)
		return
	}
	mediaID := c.Param("media_id")
	if err := s.cache.ClearMedia(mediaID); err != nil {
		apperrors.HandleInternalError(c, "failed to clear media cache", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "media_id": mediaID})
}

func (s *Server) handleCacheClearOrphaned(c *gin.Context) {
	if s.cache == nil {
		apperrors.HandleInternalError(c, "asset cache not configured", nil)
		return
	}
	removed, err := s.cache.ClearOrphaned(c.Request.Context())
	if err != nil {
		apperrors.HandleInternalError(c, "failed to clear orphaned cache entries", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}
