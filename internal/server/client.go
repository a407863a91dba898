// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one WebSocket connection. It owns the connection and a bounded
// queue of encoded events drained by its write pump.
type Client struct {
	id       string
	conn     *websocket.Conn
	hub      *Hub
	addr     string
	userID   string
	username string

	mu     sync.Mutex
	send   chan []byte
	closed bool

	state       atomic.Int32
	rateLimiter *rateLimiter
	logger      *zap.Logger

	finalizeOnce sync.Once
	connOnce     sync.Once
	writeDone    chan struct{}
}

// NewClient creates a Client for conn with the hub's queue size and rate
// limit. The client starts in StateConnecting.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	id := uuid.NewString()
	c := &Client{
		id:          id,
		conn:        conn,
		hub:         hub,
		addr:        addr,
		send:        make(chan []byte, hub.cfg.SendBuffer),
		rateLimiter: newRateLimiter(hub.cfg.RateLimit),
		logger:      hub.logger.With(zap.String("conn_id", id), zap.String("addr", addr)),
		writeDone:   make(chan struct{}),
	}
	if conn != nil {
		conn.SetReadLimit(hub.cfg.MaxMessageSize)
	}
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// UserID returns the authenticated user id, empty before the handshake.
func (c *Client) UserID() string { return c.userID }

// Username returns the authenticated username, empty before the handshake.
func (c *Client) Username() string { return c.username }

// State returns the current lifecycle state.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// enqueue queues payload without blocking.
func (c *Client) enqueue(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) enqueueJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(payload)
}

// closeSend closes the send queue once. The write pump flushes what is
// already queued, sends a close frame and closes the connection.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// closeConn closes the underlying connection exactly once.
func (c *Client) closeConn() {
	c.connOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("error closing connection", zap.Error(err))
		}
	})
}

// writeDirect writes one JSON event outside the write pump. Only valid
// before the pump starts.
func (c *Client) writeDirect(v any) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError records why the read loop ended.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", zap.Int64("max_bytes", c.hub.cfg.MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", zap.String("user_id", c.userID))
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", zap.String("user_id", c.userID), zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected close", zap.String("user_id", c.userID), zap.Error(err))
	default:
		c.logger.Info("read error", zap.String("user_id", c.userID), zap.Error(err))
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the frame should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Debug("rate limit exceeded; discarding frame",
			zap.Int("burst", c.hub.cfg.RateLimit.Burst),
			zap.Duration("refill_interval", c.hub.cfg.RateLimit.RefillInterval))
		return false
	}
	return true
}

// readPump routes frames until the connection fails. The finalizer runs on
// every exit, including a panic in the router.
func (c *Client) readPump() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("recovered panic in read loop",
				zap.String("user_id", c.userID),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		c.hub.finalize(c)
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}
		if c.State() != StateActive {
			return
		}

		c.hub.metrics.FramesReceived.Inc()
		if !c.checkRateLimit() {
			c.hub.metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			continue
		}

		c.hub.route(c, raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
		close(c.writeDone)
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// handleMessage writes one queued event per frame and returns false if the
// connection should be closed.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Info("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("error writing ping", zap.Error(err))
		return false
	}
	return true
}
