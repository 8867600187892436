// Package metrics exposes Prometheus collectors for the chat relay.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery results.
const (
	DeliverySent    = "sent"
	DeliverySkipped = "skipped"
)

// Metrics holds every collector on a private registry. All methods are safe
// on a nil receiver so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	connections         prometheus.Gauge
	rooms               prometheus.Gauge
	messagesPersisted   prometheus.Counter
	persistenceFailures prometheus.Counter
	deliveries          *prometheus.CounterVec
	framesDropped       *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "connections_active",
			Help:      "Number of open WebSocket connections.",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roomchat",
			Name:      "rooms_active",
			Help:      "Number of rooms with at least one member.",
		}),
		messagesPersisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "messages_persisted_total",
			Help:      "Chat messages recorded by the store.",
		}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "persistence_failures_total",
			Help:      "Chat messages the store failed to record.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "deliveries_total",
			Help:      "Per-recipient fan-out attempts by result.",
		}, []string{"result"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roomchat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped by reason.",
		}, []string{"reason"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.rooms,
		m.messagesPersisted,
		m.persistenceFailures,
		m.deliveries,
		m.framesDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

// SetRooms records the current number of non-empty rooms.
func (m *Metrics) SetRooms(n int) {
	if m != nil {
		m.rooms.Set(float64(n))
	}
}

func (m *Metrics) MessagePersisted() {
	if m != nil {
		m.messagesPersisted.Inc()
	}
}

func (m *Metrics) PersistenceFailed() {
	if m != nil {
		m.persistenceFailures.Inc()
	}
}

// Delivery records one fan-out attempt with result DeliverySent or DeliverySkipped.
func (m *Metrics) Delivery(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

// FrameDropped records an inbound frame that was not handled.
func (m *Metrics) FrameDropped(reason string) {
	if m != nil {
		m.framesDropped.WithLabelValues(reason).Inc()
	}
}
