package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorWithRegistry("test", reg, reg)

	m.IncOnlinePlayers()
	m.IncOnlinePlayers()
	m.DecOnlinePlayers()
	m.SetActiveRooms(3)
	m.IncMessagesReceived()
	m.IncMessagesReceived()
	m.IncTurnsResolved()
	m.IncAutoGuesses()
	m.IncGamesFinished("win")
	m.IncGamesFinished("win")
	m.IncGamesFinished("draw")
	m.ObserveMessageLatency(3 * time.Millisecond)

	metrics := m.Metrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.OnlinePlayers))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ActiveRooms))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TurnsResolved))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.AutoGuesses))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.GamesFinished.WithLabelValues("win")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GamesFinished.WithLabelValues("draw")))
	assert.Equal(t, int64(2), m.Requests())
}

func TestMonitor_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMonitor("dup")
		NewMonitor("dup")
	})
}

func TestMonitor_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMonitorWithRegistry("cardduel", reg, reg)
	m.SetActiveRooms(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "cardduel_active_rooms 2")
}
