package server

import "errors"

// Handshake failures. Each one terminates the connection before it reaches
// the registry.
var (
	ErrAuthTimeout     = errors.New("auth timeout")
	ErrAuthRequired    = errors.New("auth required")
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrTransport       = errors.New("transport error")
)

// Non-fatal failures. They are logged and counted, never returned to the
// client.
var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrDeliveryFailure    = errors.New("delivery failure")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Causes wrapped by ErrDeliveryFailure.
var (
	ErrClientClosed   = errors.New("client closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// clientMessage is the text sent in the error event for a handshake
// failure. Transport failures are not reported to the client.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthRequired):
		return "authentication required"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid user"
	default:
		return ""
	}
}

// failureReason labels handshake failures in metrics.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthTimeout):
		return "auth_timeout"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	default:
		return "transport"
	}
}
