// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers    prometheus.Gauge
	ActiveRooms      prometheus.Gauge
	MessagesReceived prometheus.Counter
	MessagesDropped  prometheus.Counter
	MessageLatency   prometheus.Histogram
	TurnsResolved    prometheus.Counter
	AutoGuesses      prometheus.Counter
	GamesFinished    *prometheus.CounterVec
	RoomsCreated     prometheus.Counter
	SoloGames        prometheus.Gauge
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected websocket sessions",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of live rooms",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of client commands processed",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Client frames dropped by the per-session rate limit",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Time from frame receipt to the end of its processing",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		TurnsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_resolved_total",
			Help:      "Two-player turns resolved",
		}),
		AutoGuesses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_guesses_total",
			Help:      "Guesses filled in by the turn timer",
		}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Finished two-player matches by outcome",
		}, []string{"outcome"}),
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_created_total",
			Help:      "Rooms created over HTTP",
		}),
		SoloGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "solo_games",
			Help:      "Live single-player games",
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.MessagesReceived,
		m.MessagesDropped,
		m.MessageLatency,
		m.TurnsResolved,
		m.AutoGuesses,
		m.GamesFinished,
		m.RoomsCreated,
		m.SoloGames,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	gatherer     prometheus.Gatherer
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

var publishOnce sync.Once

// NewMonitor registers its metrics on a fresh registry.
func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMonitorWithRegistry(namespace, reg, reg)
}

func NewMonitorWithRegistry(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Monitor {
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	// expvar names are process-global
	publishOnce.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
		expvar.Publish("requests", expvar.Func(func() interface{} {
			return m.Requests()
		}))
	})
	return m
}

// Handler serves the metrics in the prometheus exposition format.
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartServer serves /metrics and /debug/vars on a separate listener.
func (m *Monitor) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/debug/vars", expvar.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go srv.ListenAndServe()
	return srv
}

func (m *Monitor) Requests() int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncMessagesDropped() {
	m.metrics.MessagesDropped.Inc()
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	m.metrics.MessageLatency.Observe(duration.Seconds())
}

func (m *Monitor) IncTurnsResolved() {
	m.metrics.TurnsResolved.Inc()
}

func (m *Monitor) IncAutoGuesses() {
	m.metrics.AutoGuesses.Inc()
}

func (m *Monitor) IncGamesFinished(outcome string) {
	m.metrics.GamesFinished.WithLabelValues(outcome).Inc()
}

func (m *Monitor) IncRoomsCreated() {
	m.metrics.RoomsCreated.Inc()
}

func (m *Monitor) SetSoloGames(count int) {
	m.metrics.SoloGames.Set(float64(count))
}
