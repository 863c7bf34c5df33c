package api

// setupRoutes configures API routes. Everything under /api except login is
// guarded by the auth middleware; /health stays open for probes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)

	login := s.echo.Group("/api/auth")
	login.Use(s.limiter.Middleware())
	login.POST("/login", s.login)

	s.echo.GET("/ws", s.deps.Hub.HandleWebSocket, s.deps.Auth.Middleware())

	api := s.echo.Group("/api")
	api.Use(s.deps.Auth.Middleware())

	api.GET("/items", s.listItems)
	api.GET("/items/:id", s.getItem)
	api.POST("/items/imdb/:imdbID", s.addItemByImdb)
	api.DELETE("/items", s.removeItems)
	api.POST("/items/:id/retry", s.retryItem)
	api.POST("/items/:id/reset", s.resetItem)

	api.GET("/states", s.listStates)
	api.GET("/stats", s.getStats)
	api.GET("/events", s.getEvents)
	api.GET("/services", s.listServices)

	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.updateSettings)

	api.GET("/logs", s.getLogs)
	api.GET("/logs/download", s.downloadLogs)

	api.GET("/tasks", s.listTasks)
	api.POST("/tasks/:id/run", s.runTask)
}
