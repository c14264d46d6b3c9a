// Package metrics provides Prometheus metrics for carelay.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "carelay"
)

// Error operation labels.
const (
	OpListenRead    = "listen_read"
	OpSessionCreate = "session_create"
	OpForwardSend   = "forward_send"
	OpReplyRead     = "reply_read"
	OpReplySend     = "reply_send"
	OpClose         = "close"
)

// Byte direction labels.
const (
	DirectionQuery = "query"
	DirectionReply = "reply"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEvicted prometheus.Counter
	SessionLifetime prometheus.Histogram

	// Traffic metrics
	QueriesReceived prometheus.Counter
	RepliesRelayed  prometheus.Counter
	Bytes           *prometheus.CounterVec

	// Loop metrics
	SweepDuration prometheus.Histogram
	Errors        *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of sessions currently in the session table",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created for forwarded queries",
		}),
		SessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions evicted for idleness",
		}),
		SessionLifetime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lifetime_seconds",
			Help:      "Histogram of session lifetime at eviction in seconds",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 120, 300},
		}),

		QueriesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_received_total",
			Help:      "Total number of query datagrams received on the listen channel",
		}),
		RepliesRelayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_relayed_total",
			Help:      "Total number of reply datagrams relayed to their origin",
		}),
		Bytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Total payload bytes relayed by direction",
		}, []string{"direction"}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Histogram of idle sweep duration in seconds",
			Buckets:   []float64{.00001, .0001, .001, .01, .1, 1},
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total transient errors by operation",
		}, []string{"op"}),
	}
}

// RecordQuery records a query datagram received on the listen channel.
func (m *Metrics) RecordQuery(bytes int) {
	m.QueriesReceived.Inc()
	m.Bytes.WithLabelValues(DirectionQuery).Add(float64(bytes))
}

// RecordReply records a reply datagram relayed back to its origin.
func (m *Metrics) RecordReply(bytes int) {
	m.RepliesRelayed.Inc()
	m.Bytes.WithLabelValues(DirectionReply).Add(float64(bytes))
}

// RecordSessionCreated records a new session and the resulting table size.
func (m *Metrics) RecordSessionCreated(active int) {
	m.SessionsCreated.Inc()
	m.SessionsActive.Set(float64(active))
}

// RecordSessionEvicted records an evicted session and the resulting table size.
func (m *Metrics) RecordSessionEvicted(active int, lifetime time.Duration) {
	m.SessionsEvicted.Inc()
	m.SessionsActive.Set(float64(active))
	m.SessionLifetime.Observe(lifetime.Seconds())
}

// SetSessionsActive sets the session table size.
func (m *Metrics) SetSessionsActive(active int) {
	m.SessionsActive.Set(float64(active))
}

// RecordSweep records how long an idle sweep took.
func (m *Metrics) RecordSweep(d time.Duration) {
	m.SweepDuration.Observe(d.Seconds())
}

// RecordError records a transient error for the given operation.
func (m *Metrics) RecordError(op string) {
	m.Errors.WithLabelValues(op).Inc()
}
