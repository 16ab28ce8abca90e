// Package server exposes the yieldwatch JSON API over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/app"
	"github.com/bobmcallan/yieldwatch/internal/common"
)

// Sync requests run paced batches inline, so responses may take minutes.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 5 * time.Minute
	idleTimeout  = time.Minute
)

// Server serves the API for one App.
type Server struct {
	app    *app.App
	server *http.Server
	logger *common.Logger
	routes []route
}

// NewServer builds the API server for a, listening on the configured host and port.
func NewServer(a *app.App) *Server {
	s := &Server{app: a, logger: a.Logger}

	mux := http.NewServeMux()
	s.routes = s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:              net.JoinHostPort(a.Config.Server.Host, strconv.Itoa(a.Config.Server.Port)),
		Handler:           applyMiddleware(mux, a.Logger),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start listens and serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	patterns := make([]string, 0, len(s.routes))
	for _, rt := range s.routes {
		patterns = append(patterns, rt.pattern)
	}
	s.logger.Info().
		Str("addr", s.server.Addr).
		Strs("routes", patterns).
		Msg("API server listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
