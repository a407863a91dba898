// Package directory is the persistence collaborator of the relay: the
// registered user list and the direct-message history.
//
// The relay core only consumes the Service interface. Backends live in this
// package (memory, SQLite, PostgreSQL, Redis) and are selected by Open.
package directory

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// DefaultHistoryLimit caps FetchConversation when the caller passes a
// non-positive limit.
const DefaultHistoryLimit = 50

// DefaultMessageType tags messages that carry no explicit type.
const DefaultMessageType = "text"

// ErrInvalidMessage is returned when a message lacks a sender or receiver.
var ErrInvalidMessage = errors.New("directory: sender_id and receiver_id are required")

// ErrInvalidUser is returned when a user lacks an id or username.
var ErrInvalidUser = errors.New("directory: user id and username are required")

// User is a registered account.
type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
}

// Message is a stored direct message. ID and CreatedAt are assigned by the
// backend on persist.
type Message struct {
	ID             string     `json:"id,omitempty"`
	SenderID       string     `json:"sender_id"`
	SenderUsername string     `json:"sender_username"`
	ReceiverID     string     `json:"receiver_id"`
	Content        string     `json:"content"`
	MessageType    string     `json:"message_type"`
	FileURL        *string    `json:"file_url"`
	CreatedAt      *time.Time `json:"created_at"`
}

// Service is the contract the relay core depends on.
type Service interface {
	// PersistMessage stores msg and returns the stored record, including
	// its id and creation time.
	PersistMessage(ctx context.Context, msg Message) (Message, error)
	// FetchConversation returns up to limit of the most recent messages
	// exchanged between userA and userB in either direction, ascending by
	// creation time.
	FetchConversation(ctx context.Context, userA, userB string, limit int) ([]Message, error)
	// ListUsers returns every registered user.
	ListUsers(ctx context.Context) ([]User, error)
	// CreateUser registers u, replacing the username of an existing id.
	CreateUser(ctx context.Context, u User) error
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func validateMessage(msg Message) (Message, error) {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return msg, ErrInvalidMessage
	}
	if msg.MessageType == "" {
		msg.MessageType = DefaultMessageType
	}
	return msg, nil
}

func validateUser(u User) error {
	if u.ID == "" || u.Username == "" {
		return ErrInvalidUser
	}
	return nil
}

func stamp(now time.Time) *time.Time {
	t := now.UTC()
	return &t
}
