// Package metric exposes bridge counters to Prometheus and serves the
// status endpoints.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "xbridge"

// Metrics are the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	ConnectionsClosed   *prometheus.CounterVec
	ConnectionsActive   prometheus.Gauge

	RadioFrames *prometheus.CounterVec
	RadioBytes  *prometheus.CounterVec
	RadioErrors *prometheus.CounterVec

	ProtocolErrors *prometheus.CounterVec
	TCPFlushes     prometheus.Counter
	TCPBytes       *prometheus.CounterVec
	Dropped        *prometheus.CounterVec

	QueuedBytes    prometheus.Gauge
	AggregateDelay prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connections", Name: "accepted_total",
			Help: "TCP clients accepted",
		}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connections", Name: "closed_total",
			Help: "TCP clients closed, by reason",
		}, []string{"reason"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connections", Name: "active",
			Help: "TCP clients currently bound",
		}),
		RadioFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "radio", Name: "frames_total",
			Help: "Radio datagrams, by direction (tx, rx)",
		}, []string{"direction"}),
		RadioBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "radio", Name: "bytes_total",
			Help: "Radio payload bytes, by direction (tx, rx)",
		}, []string{"direction"}),
		RadioErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "radio", Name: "errors_total",
			Help: "Radio errors, by error class",
		}, []string{"class"}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "errors_total",
			Help: "In-band error replies sent to clients, by kind",
		}, []string{"kind"}),
		TCPFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tcp", Name: "flushes_total",
			Help: "Coalesced radio data written to clients",
		}),
		TCPBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tcp", Name: "bytes_total",
			Help: "Client bytes, by direction (in, out)",
		}, []string{"direction"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "dropped_total",
			Help: "Data discarded by the bridge, by reason",
		}, []string{"reason"}),
		QueuedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "queued_bytes",
			Help: "Bytes waiting for the radio across all connections",
		}),
		AggregateDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bridge", Name: "aggregate_delay_seconds",
			Help:    "Time from first datagram to TCP flush",
			Buckets: []float64{.05, .1, .2, .3, .35, .5, 1, 2},
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ConnectionsAccepted, m.ConnectionsClosed, m.ConnectionsActive,
		m.RadioFrames, m.RadioBytes, m.RadioErrors,
		m.ProtocolErrors, m.TCPFlushes, m.TCPBytes, m.Dropped,
		m.QueuedBytes, m.AggregateDelay,
	}
}

// NewRegistry returns a registry holding m plus the Go runtime and process
// collectors.
func NewRegistry(m *Metrics) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) Accepted() {
	if m == nil {
		return
	}
	m.ConnectionsAccepted.Inc()
	m.ConnectionsActive.Inc()
}

func (m *Metrics) Closed(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsClosed.WithLabelValues(reason).Inc()
	m.ConnectionsActive.Dec()
}

func (m *Metrics) RadioSent(n int) {
	if m == nil {
		return
	}
	m.RadioFrames.WithLabelValues("tx").Inc()
	m.RadioBytes.WithLabelValues("tx").Add(float64(n))
}

func (m *Metrics) RadioReceived(n int) {
	if m == nil {
		return
	}
	m.RadioFrames.WithLabelValues("rx").Inc()
	m.RadioBytes.WithLabelValues("rx").Add(float64(n))
}

func (m *Metrics) RadioError(class string) {
	if m == nil {
		return
	}
	m.RadioErrors.WithLabelValues(class).Inc()
}

func (m *Metrics) ProtocolError(kind string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) TCPRead(n int) {
	if m == nil {
		return
	}
	m.TCPBytes.WithLabelValues("in").Add(float64(n))
}

func (m *Metrics) TCPWritten(n int) {
	if m == nil {
		return
	}
	m.TCPBytes.WithLabelValues("out").Add(float64(n))
}

// Flushed records one aggregate written to a client after it had waited age.
func (m *Metrics) Flushed(age time.Duration) {
	if m == nil {
		return
	}
	m.TCPFlushes.Inc()
	m.AggregateDelay.Observe(age.Seconds())
}

func (m *Metrics) Drop(reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueued(bytes int) {
	if m == nil {
		return
	}
	m.QueuedBytes.Set(float64(bytes))
}
