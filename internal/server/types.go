// Package server defines the JSON frames exchanged with clients and utility
// helpers that are reused across client and hub logic.
package server

import (
	"strings"
	"time"

	"github.com/Tyrowin/relaychat/internal/directory"
)

// Frame types sent by clients.
const (
	FrameAuth       = "auth"
	FrameGetHistory = "get_history"
)

// Event types sent by the server.
const (
	EventError       = "error"
	EventConnected   = "connected"
	EventUsersList   = "users_list"
	EventUserOnline  = "user_online"
	EventUserOffline = "user_offline"
	EventHistory     = "history"
	EventMessage     = "message"
)

// inboundFrame is the union of every client frame. Which fields matter
// depends on Type; a missing Type means a text message.
type inboundFrame struct {
	Type       string  `json:"type"`
	Username   string  `json:"username"`
	UserID     string  `json:"user_id"`
	WithUserID string  `json:"with_user_id"`
	ReceiverID string  `json:"receiver_id"`
	Content    string  `json:"content"`
	FileURL    *string `json:"file_url"`
}

// ErrorEvent reports a handshake failure.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// IdentityEvent is used for connected, user_online and user_offline.
type IdentityEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// RosterEntry is one user in a users_list event.
type RosterEntry struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// UsersListEvent carries the roster sent to a newly connected session.
type UsersListEvent struct {
	Type  string        `json:"type"`
	Users []RosterEntry `json:"users"`
}

// HistoryEvent answers a get_history frame.
type HistoryEvent struct {
	Type       string              `json:"type"`
	WithUserID string              `json:"with_user_id"`
	Messages   []directory.Message `json:"messages"`
}

// MessageEvent delivers a chat message to its receiver. CreatedAt is null
// when the message could not be persisted.
type MessageEvent struct {
	Type           string     `json:"type"`
	SenderID       string     `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	ReceiverID     string     `json:"receiver_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	FileURL        *string    `json:"file_url"`
	CreatedAt      *time.Time `json:"created_at"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
