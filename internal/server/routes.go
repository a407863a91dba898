// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import (
	"net/http"
	"path/filepath"
)

// Routes configures and returns an HTTP ServeMux with all application routes:
// the WebSocket endpoint, health check, chat pages, static assets, the test
// page and, when configured, Prometheus metrics.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.WebSocketHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/test", s.TestPageHandler)

	login := s.pageHandler("login.html")
	mux.HandleFunc("/login", login)
	mux.HandleFunc("/chat", s.pageHandler("chat.html"))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		login(w, r)
	})

	static := http.FileServer(http.Dir(filepath.Join(s.cfg.WebDir, "static")))
	mux.Handle("/static/", http.StripPrefix("/static/", static))

	if s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, s.hub.metrics.Handler())
	}
	return mux
}
