// Package server coordinates session registration, routing, presence and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/directory"
	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/visibility"
)

// Deps are the collaborators a Hub is built from. Nil fields fall back to an
// in-memory directory, no visibility restrictions, a private metrics registry
// and a no-op logger.
type Deps struct {
	Directory  directory.Service
	Visibility *visibility.Relation
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Hub owns the session registry and everything a session needs after the
// upgrade: the directory, the visibility policy and metrics.
type Hub struct {
	cfg        Config
	directory  directory.Service
	visibility *visibility.Relation
	metrics    *metrics.Metrics
	logger     *zap.Logger
	registry   *Registry

	mu    sync.Mutex
	conns map[string]*Client

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub ready to serve upgraded connections.
func NewHub(cfg Config, deps Deps) *Hub {
	if deps.Directory == nil {
		deps.Directory = directory.NewMemoryStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        sanitizeConfig(cfg),
		directory:  deps.Directory,
		visibility: deps.Visibility,
		metrics:    deps.Metrics,
		logger:     deps.Logger.Named("hub"),
		registry:   NewRegistry(),
		conns:      make(map[string]*Client),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Registry exposes the session registry for inspection.
func (h *Hub) Registry() *Registry { return h.registry }

// Serve runs the whole life of one upgraded connection and returns when it
// is closed: handshake, activation, the read loop and teardown.
func (h *Hub) Serve(conn *websocket.Conn, addr string) {
	c := NewClient(conn, h, addr)
	if !h.track(c) {
		c.logger.Info("rejecting connection during shutdown")
		c.setState(StateClosed)
		c.closeConn()
		return
	}
	defer h.untrack(c)

	h.metrics.TotalConnections.Inc()

	if err := h.authenticate(c); err != nil {
		h.rejectHandshake(c, err)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()

	h.activate(c)
	c.readPump()

	// Let the write pump flush what the finalizer left queued.
	select {
	case <-c.writeDone:
	case <-time.After(writeWait):
	}
	c.closeConn()
}

func (h *Hub) track(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ctx.Err() != nil {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

func (h *Hub) untrack(c *Client) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
	h.wg.Done()
}

// shutdownClients closes every live connection; each session then runs its
// own finalizer.
func (h *Hub) shutdownClients() int {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeConn()
	}
	return len(clients)
}

// Shutdown stops accepting sessions, closes the live ones and waits for
// their goroutines to finish or for timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()

	closed := h.shutdownClients()
	h.logger.Info("closed client connections", zap.Int("count", closed))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached; some sessions may still be running")
		return context.DeadlineExceeded
	}
}
