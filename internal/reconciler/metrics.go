package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons used as the "reason" label of events_dropped_total.
const (
	reasonQueueFull    = "queue_full"
	reasonSuperseded   = "superseded"
	reasonUnresolved   = "unresolved_handle"
	reasonUnknownPort  = "unknown_port"
	reasonDuplicate    = "duplicate"
	reasonInvalid      = "invalid"
	reasonNoConnection = "no_connection"
)

// Metrics holds the reconciler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	received   *prometheus.CounterVec // by kind
	applied    *prometheus.CounterVec // by kind
	dropped    *prometheus.CounterVec // by kind and reason
	resyncs    prometheus.Counter
	queueDepth prometheus.Gauge
	entities   *prometheus.GaugeVec // by entity
}

// NewMetrics creates the reconciler collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "reconciler",
			Name:      "events_received_total",
			Help:      "Server events accepted into the queue",
		}, []string{"kind"}), // kind: port, connect

		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "reconciler",
			Name:      "events_applied_total",
			Help:      "Events that changed the graph",
		}, []string{"kind"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "reconciler",
			Name:      "events_dropped_total",
			Help:      "Events dropped without changing the graph",
		}, []string{"kind", "reason"}),

		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "reconciler",
			Name:      "resyncs_total",
			Help:      "Full graph resynchronisations",
		}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "patchbay",
			Subsystem: "reconciler",
			Name:      "queue_depth",
			Help:      "Events waiting in the queue",
		}),

		entities: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "patchbay",
			Subsystem: "graph",
			Name:      "entities",
			Help:      "Live graph entities",
		}, []string{"entity"}), // entity: groups, ports, connections
	}

	for _, c := range []prometheus.Collector{m.received, m.applied, m.dropped, m.resyncs, m.queueDepth, m.entities} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) eventReceived(kind string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(kind).Inc()
}

func (m *Metrics) eventApplied(kind string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(kind).Inc()
}

func (m *Metrics) eventDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) resynced() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}

func (m *Metrics) observe(depth int, groups, ports, connections int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
	m.entities.WithLabelValues("groups").Set(float64(groups))
	m.entities.WithLabelValues("ports").Set(float64(ports))
	m.entities.WithLabelValues("connections").Set(float64(connections))
}
