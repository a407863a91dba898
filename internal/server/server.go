// Package server constructs and starts the relay HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server binds a Hub to an HTTP surface.
type Server struct {
	cfg      Config
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New builds a Server and its Hub from cfg and deps.
func New(cfg Config, deps Deps) *Server {
	cfg = sanitizeConfig(cfg)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	hub := NewHub(cfg, deps)
	logger := deps.Logger.Named("server")
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Server{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		logger: logger,
	}
}

// Hub returns the hub serving this server's sessions.
func (s *Server) Hub() *Hub { return s.hub }

// Config returns the sanitized configuration.
func (s *Server) Config() Config { return s.cfg }

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use. WriteTimeout is left
// unset because hijacked WebSocket connections manage their own deadlines.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits.
func (s *Server) StartServer(httpServer *http.Server) error {
	s.logger.Info("server listening", zap.String("addr", httpServer.Addr))
	return httpServer.ListenAndServe()
}

// ShutdownServer stops accepting HTTP requests, then closes every session
// through its finalizer. Both phases share timeout.
func (s *Server) ShutdownServer(httpServer *http.Server, timeout time.Duration) error {
	s.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// http.Server does not track hijacked connections; the hub closes those.
	hubErr := make(chan error, 1)
	go func() { hubErr <- s.hub.Shutdown(timeout) }()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}
	if err := <-hubErr; err != nil {
		return err
	}

	s.logger.Info("HTTP server shutdown completed")
	return nil
}
