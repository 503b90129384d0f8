// Package server is the HTTP surface over the scraping orchestrator: a
// small JSON API for triggering scrapes, polling session progress, and
// administering the plugin registry and asset cache.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ashbourne-dev/reelvault/internal/assetcache"
	"github.com/ashbourne-dev/reelvault/internal/config"
	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/logger"
	"github.com/ashbourne-dev/reelvault/internal/plugin"
	"github.com/ashbourne-dev/reelvault/internal/scanner"
	"github.com/ashbourne-dev/reelvault/internal/scrape"
	"github.com/ashbourne-dev/reelvault/internal/session"
)

// Server owns the gin engine and the wired orchestrator components the
// handlers reach into.
type Server struct {
	cfg      *config.Config
	engine   *gin.Engine
	http     *http.Server
	repo     *database.Repository
	registry *plugin.Registry
	pipeline *scrape.Pipeline
	sessions *session.Store
	cache    *assetcache.Cache
	scanner  *scanner.Scanner
}

// New wires the handlers and routes. cache and scanner may be nil in tests
// that only exercise the scrape endpoints.
func New(cfg *config.Config, repo *database.Repository, registry *plugin.Registry, pipeline *scrape.Pipeline, sessions *session.Store, cache *assetcache.Cache, sc *scanner.Scanner) *Server {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())
	if cfg.Server.EnableCORS {
		engine.Use(corsMiddleware())
	}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		repo:     repo,
		registry: registry,
		pipeline: pipeline,
		sessions: sessions,
		cache:    cache,
		scanner:  sc,
	}
	s.registerRoutes()
	return s
}

// Engine exposes the router for httptest-driven handler tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	logger.Info("http server listening", logger.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests. Background scrape sessions are left
// running headless — they are lost with the process, by design, not
// cancelled on HTTP shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("http request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
		)
	}
}
