package app

// registerRoutes sets up all HTTP handlers for the application.
func (a *App) registerRoutes() {
	a.Mux.HandleFunc("GET /api/status", a.handleStatus)
	a.Mux.HandleFunc("GET /api/field", a.handleField)

	a.Mux.HandleFunc("POST /api/display/mode", a.handleDisplayMode)
	a.Mux.HandleFunc("POST /api/display/speed", a.handleDisplaySpeed)
	a.Mux.HandleFunc("POST /api/display/{action}", a.handleDisplayAction)

	a.Mux.HandleFunc("POST /api/robot/target", a.handleRobotTarget)
	a.Mux.HandleFunc("POST /api/robot/{action}", a.handleRobotAction)

	a.Mux.HandleFunc("POST /api/links/reopen", a.handleReopen)
	a.Mux.HandleFunc("GET /api/events/latest", a.handleLatestEvents)

	a.Mux.HandleFunc("GET /ws", a.hub.ServeWS)
}
