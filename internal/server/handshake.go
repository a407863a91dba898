package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// authenticate reads exactly one frame within the handshake timeout and
// extracts the identity it claims. The identity is trusted as sent.
func (h *Hub) authenticate(c *Client) error {
	c.setState(StateAuthenticating)

	if err := c.conn.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrAuthTimeout
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("%w: undecodable auth frame: %w", ErrTransport, err)
	}
	if frame.Type != FrameAuth {
		return ErrAuthRequired
	}
	if strings.TrimSpace(frame.Username) == "" || strings.TrimSpace(frame.UserID) == "" {
		return ErrInvalidIdentity
	}

	c.userID = frame.UserID
	c.username = frame.Username
	return nil
}

// rejectHandshake reports a failed handshake to the client, when the failure
// is one it should hear about, and closes the connection. The registry is
// never touched.
func (h *Hub) rejectHandshake(c *Client, err error) {
	reason := failureReason(err)
	h.metrics.HandshakeFailures.WithLabelValues(reason).Inc()
	c.logger.Info("handshake failed", zap.String("reason", reason), zap.Error(err))

	if msg := clientMessage(err); msg != "" {
		if werr := c.writeDirect(ErrorEvent{Type: EventError, Message: msg}); werr != nil {
			c.logger.Debug("could not send handshake error", zap.Error(werr))
		} else {
			closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg)
			_ = c.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		}
	}

	c.setState(StateClosed)
	c.closeConn()
}
