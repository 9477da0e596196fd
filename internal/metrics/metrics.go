// Package metrics holds the Prometheus collectors of the hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pos_hub"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	MessagesReceived *prometheus.CounterVec
	Errors           *prometheus.CounterVec
	Evictions        prometheus.Counter
	Broadcasts       *prometheus.CounterVec
	StoreLatency     *prometheus.HistogramVec
}

// New registers the hub collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Connections currently registered with the hub.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Non-empty rooms currently held by the hub.",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_received_total",
			Help: "Inbound envelopes by type.",
		}, []string{"type"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Error envelopes sent, by code.",
		}, []string{"code"}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "idle_evictions_total",
			Help: "Connections evicted by the idle sweeper.",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Room fan-outs by room.",
		}, []string{"room"}),
		StoreLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "store_latency_seconds",
			Help:    "Latency of external store calls made for the hub.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

func (m *Metrics) SetConnections(n int) {
	if m != nil {
		m.Connections.Set(float64(n))
	}
}

func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.Rooms.Set(float64(n))
	}
}

func (m *Metrics) MessageReceived(msgType string) {
	if m != nil {
		m.MessagesReceived.WithLabelValues(msgType).Inc()
	}
}

func (m *Metrics) ErrorSent(code string) {
	if m != nil {
		m.Errors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Evicted(n int) {
	if m != nil && n > 0 {
		m.Evictions.Add(float64(n))
	}
}

func (m *Metrics) Broadcast(room string) {
	if m != nil {
		m.Broadcasts.WithLabelValues(room).Inc()
	}
}

// ObserveStore records the time elapsed since start for op.
func (m *Metrics) ObserveStore(op string, start time.Time) {
	if m != nil {
		m.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
