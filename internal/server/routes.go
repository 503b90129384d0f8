package server

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/api")
	{
		scrapeGroup := api.Group("/scrape")
		{
			scrapeGroup.POST("/media/batch", s.handleBatchScrapeMedia)
			scrapeGroup.POST("/media/batch-import", s.handleBatchImport)
			scrapeGroup.POST("/media/:id", s.handleScrapeMedia)
			scrapeGroup.POST("/actor/batch", s.handleBatchScrapeActors)
			scrapeGroup.POST("/actor/:id", s.handleScrapeActor)
			scrapeGroup.GET("/progress/:session_id", s.handleProgress)
			scrapeGroup.POST("/cancel/:session_id", s.handleCancelSession)
			scrapeGroup.GET("/magnets/progress/:session_id", s.handleProgress)
			scrapeGroup.GET("/magnets/:plugin_id", s.handleSearchMagnets)
			scrapeGroup.POST("/auto", s.handleAutoScrape)
		}

		api.POST("/scan", s.handleScan)

		plugins := api.Group("/plugins")
		{
			plugins.GET("", s.handleListPlugins)
			plugins.POST("/reload", s.handleReloadPlugins)
		}

		cache := api.Group("/cache")
		{
			cache.GET("/stats", s.handleCacheStats)
			cache.POST("/clear", s.handleCacheClear)
			cache.POST("/clear/:media_id", s.handleCacheClearMedia)
			cache.POST("/clear-orphaned", s.handleCacheClearOrphaned)
		}
	}
}
