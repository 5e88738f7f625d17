// Package app implements the operator HTTP API and the websocket event stream.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ShapeBot/internal/core"
	"ShapeBot/internal/util"
)

// App serves the operator API on top of a running System.
type App struct {
	Sys    *core.System
	Mux    *http.ServeMux
	Server *http.Server

	hub *Hub
	log *util.Logger
}

// NewApp wires the routes and the websocket hub to sys.
func NewApp(sys *core.System) *App {
	a := &App{
		Sys: sys,
		Mux: http.NewServeMux(),
		log: util.NewLogger("app"),
	}
	a.hub = NewHub(sys, 200*time.Millisecond)
	a.registerRoutes()
	return a
}

// Handler returns the root handler including middleware.
func (a *App) Handler() http.Handler {
	return a.withLogging(a.Mux)
}

// Start launches the web server and blocks until stopped.
func (a *App) Start(addr string) error {
	if a == nil {
		return fmt.Errorf("[app] Start called on nil receiver")
	}
	if addr == "" {
		a.log.Infof("app server not started (empty address)")
		return nil
	}

	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	a.Server = &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.hub.Start()

	a.log.Infof("web server listening at http://%s", addr)
	if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("[app] HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the web server and disconnects websocket clients.
func (a *App) Stop() {
	if a == nil {
		return
	}
	if a.Server != nil {
		a.log.Infof("shutting down web server...")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.Server.Shutdown(ctx); err != nil {
			a.log.Errorf("HTTP server shutdown error: %v", err)
		} else {
			a.log.Infof("web server stopped cleanly")
		}
	}
	a.hub.Stop()
}
