package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsAreIsolatedPerRegistry(t *testing.T) {
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.ActiveSessions.Inc()
	a.HandshakeFailures.WithLabelValues("auth_timeout").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ActiveSessions))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.HandshakeFailures.WithLabelValues("auth_timeout")))
}

func TestHandlerExposesRelayMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.TotalConnections.Inc()
	m.PresenceEvents.WithLabelValues("user_online").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "relay_connections_total 1")
	assert.Contains(t, string(body), `relay_presence_events_total{kind="user_online"} 2`)
}

func TestNewWithNilRegistry(t *testing.T) {
	m := New(nil)
	require.NotNil(t, m)
	m.LiveDeliveries.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LiveDeliveries))
}
