package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/directory"
	"github.com/Tyrowin/relaychat/internal/metrics"
	"github.com/Tyrowin/relaychat/internal/testhelpers"
	"github.com/Tyrowin/relaychat/internal/visibility"
)

type fixture struct {
	srv     *Server
	url     string
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg Config, deps Deps) *fixture {
	t.Helper()

	if cfg.AllowedOrigins == nil {
		cfg.AllowedOrigins = []string{testhelpers.TestOrigin}
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit = RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(prometheus.NewRegistry())
	}

	srv := New(cfg, deps)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(2 * time.Second)
		ts.Close()
	})

	return &fixture{srv: srv, url: testhelpers.WebSocketURL(ts.URL), metrics: deps.Metrics}
}

func (f *fixture) sessions() int { return f.srv.Hub().Registry().Len() }

func seededStore(t *testing.T, users ...directory.User) *directory.MemoryStore {
	t.Helper()
	store := directory.NewMemoryStore()
	require.NoError(t, directory.Seed(context.Background(), store, users))
	return store
}

// recordingStore counts persist attempts on top of the memory store.
type recordingStore struct {
	*directory.MemoryStore
	mu        sync.Mutex
	persisted []directory.Message
}

func (s *recordingStore) PersistMessage(ctx context.Context, msg directory.Message) (directory.Message, error) {
	s.mu.Lock()
	s.persisted = append(s.persisted, msg)
	s.mu.Unlock()
	return s.MemoryStore.PersistMessage(ctx, msg)
}

func (s *recordingStore) last() directory.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persisted[len(s.persisted)-1]
}

func (s *recordingStore) persistCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

var errStoreDown = errors.New("store down")

type failingStore struct{}

func (failingStore) PersistMessage(context.Context, directory.Message) (directory.Message, error) {
	return directory.Message{}, errStoreDown
}

func (failingStore) FetchConversation(context.Context, string, string, int) ([]directory.Message, error) {
	return nil, errStoreDown
}
func (failingStore) ListUsers(context.Context) ([]directory.User, error) { return nil, errStoreDown }
func (failingStore) CreateUser(context.Context, directory.User) error    { return errStoreDown }
func (failingStore) Close() error                                       { return nil }

// panickingStore blows up inside the router's persist step.
type panickingStore struct{ *directory.MemoryStore }

func (panickingStore) PersistMessage(context.Context, directory.Message) (directory.Message, error) {
	panic("persist exploded")
}

func chat(receiverID, content string) map[string]any {
	return map[string]any{"type": "text", "receiver_id": receiverID, "content": content}
}

func TestHandshakeTimeoutClosesWithoutRegistering(t *testing.T) {
	f := newFixture(t, Config{HandshakeTimeout: 150 * time.Millisecond}, Deps{})

	conn := testhelpers.Dial(t, f.url)
	events := testhelpers.ExpectClosed(t, conn)

	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type())
	assert.Equal(t, "timeout", events[0].String("message"))
	assert.Equal(t, 0, f.sessions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HandshakeFailures.WithLabelValues("auth_timeout")))
}

func TestHandshakeRejectsNonAuthFirstFrame(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	tests := []struct {
		name  string
		frame []byte
	}{
		{"chat frame", []byte(`{"type":"text","receiver_id":"u2","content":"hi"}`)},
		{"missing type", []byte(`{"username":"alice","user_id":"u1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := testhelpers.Dial(t, f.url)
			require.NoError(t, testhelpers.SendRawMessage(conn, 1, tt.frame))

			events := testhelpers.ExpectClosed(t, conn)
			require.Len(t, events, 1)
			assert.Equal(t, "authentication required", events[0].String("message"))
			assert.Equal(t, 0, f.sessions())
		})
	}
}

func TestHandshakeUndecodableFirstFrameClosesSilently(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	conn := testhelpers.Dial(t, f.url)
	require.NoError(t, testhelpers.SendRawMessage(conn, 1, []byte(`not json`)))

	events := testhelpers.ExpectClosed(t, conn)
	assert.Empty(t, events)
	assert.Equal(t, 0, f.sessions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HandshakeFailures.WithLabelValues("transport")))
	assert.Zero(t, testutil.ToFloat64(f.metrics.HandshakeFailures.WithLabelValues("auth_required")))
}

func TestHandshakeRejectsEmptyIdentity(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	for _, frame := range []map[string]string{
		{"type": "auth", "user_id": "u1", "username": ""},
		{"type": "auth", "user_id": "", "username": "alice"},
		{"type": "auth", "user_id": "  ", "username": "alice"},
	} {
		conn := testhelpers.Dial(t, f.url)
		testhelpers.SendJSON(t, conn, frame)

		events := testhelpers.ExpectClosed(t, conn)
		require.Len(t, events, 1)
		assert.Equal(t, "invalid user", events[0].String("message"))
	}
	assert.Equal(t, 0, f.sessions())
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.HandshakeFailures.WithLabelValues("invalid_identity")))
}

func TestRosterExcludesSelfAndReportsOnline(t *testing.T) {
	store := seededStore(t,
		directory.User{ID: "u1", Username: "alice"},
		directory.User{ID: "u2", Username: "bob"},
		directory.User{ID: "u3", Username: "carol"},
	)
	f := newFixture(t, Config{}, Deps{Directory: store})

	testhelpers.Login(t, f.url, "u2", "bob")
	_, users := testhelpers.Login(t, f.url, "u1", "alice")

	online := map[string]bool{}
	for _, raw := range users {
		entry := raw.(map[string]any)
		online[entry["id"].(string)] = entry["online"].(bool)
	}
	assert.Equal(t, map[string]bool{"u2": true, "u3": false}, online)
}

func TestRosterIsEmptyWhenDirectoryFails(t *testing.T) {
	f := newFixture(t, Config{}, Deps{Directory: failingStore{}})

	_, users := testhelpers.Login(t, f.url, "u1", "alice")
	require.NotNil(t, users)
	assert.Empty(t, users)
}

func TestRegistrySizeTracksSessions(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	a, _ := testhelpers.Login(t, f.url, "u1", "alice")
	b, _ := testhelpers.Login(t, f.url, "u2", "bob")
	assert.Equal(t, 2, f.sessions())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.ActiveSessions))

	require.NoError(t, testhelpers.CloseWebSocket(a))
	testhelpers.Eventually(t, func() bool { return f.sessions() == 1 })

	require.NoError(t, b.Close())
	testhelpers.Eventually(t, func() bool {
		return f.sessions() == 0 && testutil.ToFloat64(f.metrics.ActiveSessions) == 0
	})
}

func TestPresenceOnlineThenOfflineExactlyOnce(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")

	online := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, EventUserOnline, online.Type())
	assert.Equal(t, "u1", online.String("user_id"))
	assert.Equal(t, "alice", online.String("username"))

	require.NoError(t, testhelpers.CloseWebSocket(alice))

	offline := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, EventUserOffline, offline.Type())
	assert.Equal(t, "u1", offline.String("user_id"))
	testhelpers.ExpectNoEvent(t, bob, 200*time.Millisecond)
}

func TestMessageDeliveredOnceToOnlineReceiver(t *testing.T) {
	store := &recordingStore{MemoryStore: directory.NewMemoryStore()}
	f := newFixture(t, Config{}, Deps{Directory: store})

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.ReadEventOfType(t, bob, EventUserOnline)

	url := "https://files.example/cat.png"
	testhelpers.SendJSON(t, alice, map[string]any{
		"type": "image", "receiver_id": "u2", "content": "cat.png", "file_url": url,
	})

	msg := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, EventMessage, msg.Type())
	assert.Equal(t, "u1", msg.String("sender_id"))
	assert.Equal(t, "alice", msg.String("sender_username"))
	assert.Equal(t, "u2", msg.String("receiver_id"))
	assert.Equal(t, "cat.png", msg.String("content"))
	assert.Equal(t, "image", msg.String("message_type"))
	assert.Equal(t, url, msg.String("file_url"))
	assert.NotEmpty(t, msg.String("created_at"))

	testhelpers.ExpectNoEvent(t, bob, 200*time.Millisecond)
	testhelpers.ExpectNoEvent(t, alice, 100*time.Millisecond)
	assert.Equal(t, 1, store.persistCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.LiveDeliveries))
}

func TestMessageToOfflineReceiverIsOnlyPersisted(t *testing.T) {
	store := &recordingStore{MemoryStore: directory.NewMemoryStore()}
	f := newFixture(t, Config{}, Deps{Directory: store})

	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.SendJSON(t, alice, map[string]any{"receiver_id": "u2", "content": "later"})

	testhelpers.Eventually(t, func() bool { return store.persistCount() == 1 })
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.LiveDeliveries))
	assert.Equal(t, directory.DefaultMessageType, store.last().MessageType)

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	testhelpers.SendJSON(t, bob, map[string]string{"type": FrameGetHistory, "with_user_id": "u1"})
	history := testhelpers.ReadEventOfType(t, bob, EventHistory)
	messages := history["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "later", messages[0].(map[string]any)["content"])
}

func TestPersistenceFailureStillDeliversWithNullTimestamp(t *testing.T) {
	f := newFixture(t, Config{}, Deps{Directory: failingStore{}})

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.ReadEventOfType(t, bob, EventUserOnline)

	testhelpers.SendJSON(t, alice, chat("u2", "hello"))

	msg := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, "hello", msg.String("content"))
	createdAt, present := msg["created_at"]
	assert.True(t, present)
	assert.Nil(t, createdAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PersistenceFailures.WithLabelValues("persist_message")))
}

func TestPanicInRouterStillFinalizes(t *testing.T) {
	f := newFixture(t, Config{}, Deps{Directory: panickingStore{directory.NewMemoryStore()}})

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.ReadEventOfType(t, bob, EventUserOnline)

	testhelpers.SendJSON(t, alice, chat("u2", "boom"))

	testhelpers.ExpectClosed(t, alice)
	offline := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, EventUserOffline, offline.Type())
	assert.Equal(t, "u1", offline.String("user_id"))
	testhelpers.Eventually(t, func() bool { return f.sessions() == 1 })
}

func TestMalformedFramesAreDroppedNotFatal(t *testing.T) {
	store := &recordingStore{MemoryStore: directory.NewMemoryStore()}
	f := newFixture(t, Config{}, Deps{Directory: store})

	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	require.NoError(t, testhelpers.SendRawMessage(alice, 1, []byte("{broken")))
	testhelpers.SendJSON(t, alice, map[string]string{"content": "nobody to send to"})
	testhelpers.SendJSON(t, alice, map[string]string{"type": FrameGetHistory})
	testhelpers.SendJSON(t, alice, map[string]string{"type": FrameGetHistory, "with_user_id": "u2"})

	history := testhelpers.ReadEvent(t, alice)
	assert.Equal(t, EventHistory, history.Type())
	assert.Equal(t, "u2", history.String("with_user_id"))
	assert.Equal(t, 0, store.persistCount())
	assert.Equal(t, 1, f.sessions())
}

func TestRateLimitedFramesAreDropped(t *testing.T) {
	store := &recordingStore{MemoryStore: directory.NewMemoryStore()}
	f := newFixture(t, Config{RateLimit: RateLimitConfig{Burst: 2, RefillInterval: time.Hour}}, Deps{Directory: store})

	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	for i := 0; i < 5; i++ {
		testhelpers.SendJSON(t, alice, chat("u2", "spam"))
	}

	testhelpers.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.FramesDropped.WithLabelValues("rate_limited")) == 3
	})
	assert.Equal(t, 2, store.persistCount())
}

func TestHistoryIsAscendingAndCapped(t *testing.T) {
	f := newFixture(t, Config{HistoryLimit: 2}, Deps{})

	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	for _, content := range []string{"one", "two", "three"} {
		testhelpers.SendJSON(t, alice, chat("u2", content))
	}
	testhelpers.SendJSON(t, alice, map[string]string{"type": FrameGetHistory, "with_user_id": "u2"})

	history := testhelpers.ReadEventOfType(t, alice, EventHistory)
	messages := history["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "one", messages[0].(map[string]any)["content"])
	assert.Equal(t, "two", messages[1].(map[string]any)["content"])
}

func TestHistoryIsEmptyWhenDirectoryFails(t *testing.T) {
	f := newFixture(t, Config{}, Deps{Directory: failingStore{}})

	alice, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.SendJSON(t, alice, map[string]string{"type": FrameGetHistory, "with_user_id": "u2"})

	history := testhelpers.ReadEventOfType(t, alice, EventHistory)
	messages, ok := history["messages"].([]any)
	require.True(t, ok, "messages must be an array, got %v", history["messages"])
	assert.Empty(t, messages)
}

func TestRestrictedUserVisibility(t *testing.T) {
	store := seededStore(t,
		directory.User{ID: "c1", Username: "Carolimiau"},
		directory.User{ID: "d1", Username: "Dreft"},
		directory.User{ID: "e1", Username: "Eve"},
	)
	policy := visibility.NewRelation(map[string][]string{"Carolimiau": {"Dreft"}})
	f := newFixture(t, Config{}, Deps{Directory: store, Visibility: policy})

	carol, carolRoster := testhelpers.Login(t, f.url, "c1", "Carolimiau")
	assert.Len(t, carolRoster, 2, "Carolimiau sees every unrestricted user")

	dreft, dreftRoster := testhelpers.Login(t, f.url, "d1", "Dreft")
	require.Len(t, dreftRoster, 2)
	assert.True(t, rosterOnline(dreftRoster, "c1"))
	assert.Equal(t, "Dreft", testhelpers.ReadEventOfType(t, carol, EventUserOnline).String("username"))

	eve, eveRoster := testhelpers.Login(t, f.url, "e1", "Eve")
	for _, raw := range eveRoster {
		assert.NotEqual(t, "Carolimiau", raw.(map[string]any)["username"])
	}
	assert.Equal(t, "Eve", testhelpers.ReadEventOfType(t, carol, EventUserOnline).String("username"))
	assert.Equal(t, "Eve", testhelpers.ReadEventOfType(t, dreft, EventUserOnline).String("username"))

	require.NoError(t, testhelpers.CloseWebSocket(carol))

	offline := testhelpers.ReadEvent(t, dreft)
	assert.Equal(t, EventUserOffline, offline.Type())
	assert.Equal(t, "Carolimiau", offline.String("username"))
	testhelpers.ExpectNoEvent(t, eve, 200*time.Millisecond)
}

func rosterOnline(users []any, id string) bool {
	for _, raw := range users {
		entry := raw.(map[string]any)
		if entry["id"] == id {
			online, _ := entry["online"].(bool)
			return online
		}
	}
	return false
}

func TestDuplicateUserIDReplacesOlderSession(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	bob, _ := testhelpers.Login(t, f.url, "u2", "bob")
	first, _ := testhelpers.Login(t, f.url, "u1", "alice")
	testhelpers.ReadEventOfType(t, bob, EventUserOnline)

	second, _ := testhelpers.Login(t, f.url, "u1", "alice")

	events := testhelpers.ExpectClosed(t, first)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type())
	assert.Equal(t, "session replaced", last.String("message"))

	assert.Equal(t, "u1", testhelpers.ReadEventOfType(t, bob, EventUserOnline).String("user_id"))

	current, ok := f.srv.Hub().Registry().Get("u1")
	require.True(t, ok)
	assert.Equal(t, StateActive, current.State())
	assert.Equal(t, 2, f.sessions())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionsReplaced))

	testhelpers.SendJSON(t, second, chat("u2", "still here"))
	msg := testhelpers.ReadEvent(t, bob)
	assert.Equal(t, EventMessage, msg.Type(), "replaced session must not produce user_offline")
	assert.Equal(t, "still here", msg.String("content"))
	testhelpers.ExpectNoEvent(t, bob, 200*time.Millisecond)
}

func TestShutdownClosesEverySession(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})

	a, _ := testhelpers.Login(t, f.url, "u1", "alice")
	b, _ := testhelpers.Login(t, f.url, "u2", "bob")

	require.NoError(t, f.srv.Hub().Shutdown(2*time.Second))

	testhelpers.ExpectClosed(t, a)
	testhelpers.ExpectClosed(t, b)
	assert.Equal(t, 0, f.sessions())

	conn, err := testhelpers.ConnectWebSocket(f.url)
	if err == nil {
		testhelpers.ExpectClosed(t, conn)
	}
	assert.Equal(t, 0, f.sessions())
}
