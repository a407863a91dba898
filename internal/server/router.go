package server

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/directory"
)

// route dispatches one post-handshake frame from c. Every failure here is
// non-fatal to the session.
func (h *Hub) route(c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.dropFrame(c, "undecodable", fmt.Errorf("%w: %w", ErrMalformedFrame, err))
		return
	}

	switch frame.Type {
	case FrameGetHistory:
		h.handleGetHistory(c, frame)
	default:
		h.handleChatMessage(c, frame)
	}
}

func (h *Hub) dropFrame(c *Client, reason string, err error) {
	h.metrics.FramesDropped.WithLabelValues(reason).Inc()
	c.logger.Debug("dropping frame",
		zap.String("user_id", c.userID),
		zap.String("reason", reason),
		zap.Error(err))
}

// handleGetHistory replies with the conversation between c and the peer. A
// store failure yields an empty history rather than an error.
func (h *Hub) handleGetHistory(c *Client, frame inboundFrame) {
	if frame.WithUserID == "" {
		h.dropFrame(c, "missing_with_user_id", ErrMalformedFrame)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DirectoryTimeout)
	defer cancel()

	messages, err := h.directory.FetchConversation(ctx, c.userID, frame.WithUserID, h.cfg.HistoryLimit)
	if err != nil {
		h.metrics.PersistenceFailures.WithLabelValues("fetch_conversation").Inc()
		c.logger.Warn("history lookup failed",
			zap.String("user_id", c.userID),
			zap.String("with_user_id", frame.WithUserID),
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)))
		messages = nil
	}
	if messages == nil {
		messages = []directory.Message{}
	}

	if err := c.enqueueJSON(HistoryEvent{Type: EventHistory, WithUserID: frame.WithUserID, Messages: messages}); err != nil {
		h.metrics.DeliveryFailures.WithLabelValues(EventHistory).Inc()
		c.logger.Warn("failed to queue history", zap.String("user_id", c.userID), zap.Error(err))
	}
}

// handleChatMessage persists a message and relays it to the receiver when
// the receiver is online. Persistence failure does not stop live delivery.
func (h *Hub) handleChatMessage(c *Client, frame inboundFrame) {
	if frame.ReceiverID == "" {
		h.dropFrame(c, "missing_receiver_id", ErrMalformedFrame)
		return
	}

	messageType := frame.Type
	if messageType == "" {
		messageType = directory.DefaultMessageType
	}

	outbound := directory.Message{
		SenderID:       c.userID,
		SenderUsername: c.username,
		ReceiverID:     frame.ReceiverID,
		Content:        frame.Content,
		MessageType:    messageType,
		FileURL:        frame.FileURL,
	}
	h.metrics.MessagesRouted.Inc()

	stored := h.persist(c, outbound)

	receiver, ok := h.registry.Get(frame.ReceiverID)
	if !ok {
		c.logger.Debug("receiver offline; stored only",
			zap.String("user_id", c.userID),
			zap.String("receiver_id", frame.ReceiverID))
		return
	}

	event := MessageEvent{
		Type:           EventMessage,
		SenderID:       stored.SenderID,
		SenderUsername: stored.SenderUsername,
		ReceiverID:     stored.ReceiverID,
		Content:        stored.Content,
		MessageType:    stored.MessageType,
		FileURL:        stored.FileURL,
		CreatedAt:      stored.CreatedAt,
	}
	if h.fanOut(EventMessage, []*Client{receiver}, event) == 1 {
		h.metrics.LiveDeliveries.Inc()
	}
}

// persist stores msg, returning the stored record or msg itself with no
// creation time when the store fails.
func (h *Hub) persist(c *Client, msg directory.Message) directory.Message {
	ctx, cancel := context.WithTimeout(h.ctx, h.cfg.DirectoryTimeout)
	defer cancel()

	stored, err := h.directory.PersistMessage(ctx, msg)
	if err != nil {
		h.metrics.PersistenceFailures.WithLabelValues("persist_message").Inc()
		c.logger.Warn("message not persisted",
			zap.String("user_id", c.userID),
			zap.String("receiver_id", msg.ReceiverID),
			zap.Error(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)))
		msg.CreatedAt = nil
		return msg
	}
	return stored
}
