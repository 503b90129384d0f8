package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ashbourne-dev/reelvault/internal/assetcache"
	"github.com/ashbourne-dev/reelvault/internal/config"
	"github.com/ashbourne-dev/reelvault/internal/database"
	"github.com/ashbourne-dev/reelvault/internal/events"
	"github.com/ashbourne-dev/reelvault/internal/logger"
	"github.com/ashbourne-dev/reelvault/internal/plugin"
	"github.com/ashbourne-dev/reelvault/internal/scanner"
	"github.com/ashbourne-dev/reelvault/internal/scrape"
	"github.com/ashbourne-dev/reelvault/internal/server"
	"github.com/ashbourne-dev/reelvault/internal/session"
)

// sessionEvictAge is how long a finished session stays pollable before the
// store's janitor may drop it.
const sessionEvictAge = time.Hour

func main() {
	configPath := os.Getenv("REELVAULT_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("./reelvault.yaml"); err == nil {
			configPath = "./reelvault.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		logger.Warn("failed to load configuration, using defaults",
			logger.String("path", configPath),
			logger.Err("error", err),
		)
	}
	cfg := config.Get()

	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}

	if err := os.MkdirAll(cfg.Plugins.Dir, 0o755); err != nil {
		log.Fatalf("failed to create plugin directory: %v", err)
	}
	registry, err := plugin.NewRegistry(cfg.Plugins.Dir, cfg.Plugins.WatchManifests)
	if err != nil {
		log.Fatalf("failed to load plugin registry: %v", err)
	}
	defer registry.Close()

	host := plugin.NewHost(cfg.Plugins.RequestTimeout, cfg.Plugins.InactivityTimeout, cfg.Plugins.KillGrace)

	sessions := session.NewStore(sessionEvictAge)
	defer sessions.Close()

	cacheConfig, err := assetcache.LoadConfigStore(filepath.Join(cfg.Cache.Root, "cache_config.json"))
	if err != nil {
		log.Fatalf("failed to load cache config: %v", err)
	}
	cache := assetcache.New(repo, cfg.Cache.Root, cacheConfig, cfg.Cache.DownloadConcurrency, cfg.Cache.ConvertConcurrency)

	bus := events.NewBus()
	defer bus.Close()
	events.SetDefault(bus)
	bus.Subscribe(events.EventScrapeSessionCompleted, func(e events.Event) {
		logger.Info("scrape session finished",
			logger.String("session_id", stringData(e, "session_id")),
			logger.String("status", stringData(e, "status")),
		)
	})

	pipeline := scrape.New(repo, registry, host, sessions, cache, bus)
	sc := scanner.New(repo)

	srv := server.New(cfg, repo, registry, pipeline, sessions, cache, sc)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-quit:
		logger.Info("shutting down", logger.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown did not drain cleanly", logger.Err("error", err))
		}
	}
}

func openRepository(cfg *config.Config) (*database.Repository, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	if cfg.Database.LogQueries {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	db, err := gorm.Open(sqlite.Open(cfg.Database.Path), gormCfg)
	if err != nil {
		return nil, err
	}
	return database.NewRepository(db)
}

func stringData(e events.Event, key string) string {
	if v, ok := e.Data[key].(string); ok {
		return v
	}
	return ""
}
