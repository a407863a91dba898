package server

import (
	"go.uber.org/zap"
)

// State is the position of a connection in its lifecycle. A connection only
// moves forward: Connecting, Authenticating, Active, Closed.
type State int32

// Connection states.
const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// activate registers an authenticated client and announces it. A previous
// session for the same user id is evicted.
func (h *Hub) activate(c *Client) {
	if previous := h.registry.Insert(c); previous != nil {
		h.evict(previous)
	}
	h.metrics.ActiveSessions.Set(float64(h.registry.Len()))
	c.setState(StateActive)

	h.logger.Info("session active",
		zap.String("conn_id", c.id),
		zap.String("user_id", c.userID),
		zap.String("username", c.username),
		zap.Int("sessions", h.registry.Len()))

	if err := c.enqueueJSON(IdentityEvent{Type: EventConnected, UserID: c.userID, Username: c.username}); err != nil {
		h.logger.Warn("failed to queue connected ack", zap.String("user_id", c.userID), zap.Error(err))
	}
	h.sendRoster(c)
	h.broadcastPresence(c, EventUserOnline)
}

// evict marks a replaced session closed, tells it why and closes its queue.
// Its read loop stops routing on the next frame, and its finalizer will find
// the registry entry owned by the new session and leave it alone.
func (h *Hub) evict(old *Client) {
	h.metrics.SessionsReplaced.Inc()
	h.logger.Info("session replaced by newer connection",
		zap.String("conn_id", old.id),
		zap.String("user_id", old.userID))

	old.setState(StateClosed)
	if err := old.enqueueJSON(ErrorEvent{Type: EventError, Message: "session replaced"}); err != nil {
		h.logger.Debug("could not notify replaced session", zap.String("conn_id", old.id), zap.Error(err))
	}
	old.closeSend()
}

// finalize tears a session down. It runs at most once per client, whatever
// ended the read loop.
func (h *Hub) finalize(c *Client) {
	c.finalizeOnce.Do(func() {
		defer c.closeSend()

		c.setState(StateClosed)

		if h.registry.Remove(c) {
			h.metrics.ActiveSessions.Set(float64(h.registry.Len()))
			h.logger.Info("session closed",
				zap.String("conn_id", c.id),
				zap.String("user_id", c.userID),
				zap.Int("sessions", h.registry.Len()))
			h.broadcastPresence(c, EventUserOffline)
		}
	})
}
