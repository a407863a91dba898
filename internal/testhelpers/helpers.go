// Package testhelpers provides common utilities for exercising the relay over
// real WebSocket connections in tests.
//
// Helpers fail the calling test on unexpected errors so test bodies can stay
// focused on the protocol exchange being checked.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// TestOrigin is the Origin header sent by ConnectWebSocket. Servers under
// test should allow it.
const TestOrigin = "http://localhost:8080"

// ReadTimeout bounds every helper read.
const ReadTimeout = 2 * time.Second

// Event is a decoded server event. Fields are looked up by key since event
// shapes differ by type.
type Event map[string]any

// Type returns the event's type field.
func (e Event) Type() string {
	s, _ := e["type"].(string)
	return s
}

// String returns a string field, or "" when it is absent or not a string.
func (e Event) String(key string) string {
	s, _ := e[key].(string)
	return s
}

// WebSocketURL converts an httptest server URL into the relay endpoint URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// ConnectWebSocket creates a WebSocket connection to the specified URL.
// It returns the connection or an error if connection fails.
func ConnectWebSocket(url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// Dial connects to url and registers the connection for cleanup.
func Dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, err := ConnectWebSocket(url)
	require.NoError(t, err, "dial %s", url)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Authenticate sends an auth frame and waits for the connected ack.
func Authenticate(t *testing.T, conn *websocket.Conn, userID, username string) {
	t.Helper()

	SendJSON(t, conn, map[string]string{"type": "auth", "user_id": userID, "username": username})
	ack := ReadEvent(t, conn)
	require.Equal(t, "connected", ack.Type(), "expected connected ack, got %v", ack)
	require.Equal(t, userID, ack.String("user_id"))
	require.Equal(t, username, ack.String("username"))
}

// Login dials url, authenticates and consumes the users_list that follows
// the ack. It returns the connection and the roster entries.
func Login(t *testing.T, url, userID, username string) (*websocket.Conn, []any) {
	t.Helper()

	conn := Dial(t, url)
	Authenticate(t, conn, userID, username)
	roster := ReadEventOfType(t, conn, "users_list")
	users, _ := roster["users"].([]any)
	return conn, users
}

// SendJSON writes v as one text frame.
func SendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetWriteDeadline(time.Now().Add(ReadTimeout)))
	require.NoError(t, conn.WriteJSON(v))
}

// SendRawMessage sends a raw byte message over the WebSocket connection.
func SendRawMessage(conn *websocket.Conn, messageType int, data []byte) error {
	return conn.WriteMessage(messageType, data)
}

// ReadEvent reads one event or fails the test after ReadTimeout.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	event, err := TryReadEvent(conn, ReadTimeout)
	require.NoError(t, err, "reading event")
	return event
}

// ReadEventOfType reads events until one of the wanted type arrives,
// skipping others.
func ReadEventOfType(t *testing.T, conn *websocket.Conn, eventType string) Event {
	t.Helper()

	deadline := time.Now().Add(ReadTimeout)
	for time.Now().Before(deadline) {
		event, err := TryReadEvent(conn, time.Until(deadline))
		require.NoError(t, err, "waiting for %q event", eventType)
		if event.Type() == eventType {
			return event
		}
	}
	require.FailNow(t, "timed out waiting for event", eventType)
	return nil
}

// TryReadEvent reads one event with the given timeout.
func TryReadEvent(conn *websocket.Conn, timeout time.Duration) (Event, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return event, nil
}

// ExpectNoEvent asserts nothing arrives on conn within wait. The connection
// is unusable for reads afterwards, as gorilla treats a read timeout as
// permanent.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()

	event, err := TryReadEvent(conn, wait)
	if err == nil {
		require.Failf(t, "unexpected event", "got %v", event)
	}
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
}

// ExpectClosed reads until the server closes conn, returning every event that
// arrived first.
func ExpectClosed(t *testing.T, conn *websocket.Conn) []Event {
	t.Helper()

	var events []Event
	deadline := time.Now().Add(ReadTimeout)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			require.False(t, errors.As(err, &netErr) && netErr.Timeout(), "connection was not closed in time")
			return events
		}
		var event Event
		if json.Unmarshal(data, &event) == nil {
			events = append(events, event)
		}
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}

// Eventually polls cond until it holds or the read timeout passes.
func Eventually(t *testing.T, cond func() bool, msgAndArgs ...any) {
	t.Helper()
	require.Eventually(t, cond, ReadTimeout, 10*time.Millisecond, msgAndArgs...)
}
