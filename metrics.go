package opensdg

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricSet bundles the Prometheus collectors a process can optionally wire
// into its Connections via AttachMetrics. Observability is an ambient
// concern carried regardless of any protocol-level non-goal, matching the
// structured-logging and syslog plumbing adapted from the teacher's log
// package elsewhere in this module.
type metricSet struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec
	handshakeDuration prometheus.Histogram
	registrySize      prometheus.GaugeFunc
}

// NewMetrics constructs the four collectors described in SPEC_FULL.md §4.9
// and registers them with reg. Call AttachMetrics to wire a Connection's
// status transitions into them.
func NewMetrics(reg prometheus.Registerer) (*metricSet, error) {
	m := &metricSet{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opensdg_connections_total",
			Help: "Connection attempts, labelled by mode and outcome.",
		}, []string{"mode", "result"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "opensdg_connections_active",
			Help: "Connections currently in StatusConnected, by mode.",
		}, []string{"mode"}),
		handshakeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "opensdg_handshake_duration_seconds",
			Help:    "Time from TCP connect to StatusConnected.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registrySize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "opensdg_registry_size",
		Help: "Number of connections currently tracked in the process-wide registry.",
	}, func() float64 { return float64(globalRegistry.size()) })

	for _, c := range []prometheus.Collector{m.connectionsTotal, m.connectionsActive, m.handshakeDuration, m.registrySize} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AttachMetrics wires c's future status transitions into m.
func (c *Connection) AttachMetrics(m *metricSet) {
	c.metrics = m
}

func (m *metricSet) observeStatus(mode Mode, old, new Status) {
	if new == StatusConnected && old != StatusConnected {
		m.connectionsActive.WithLabelValues(mode.String()).Inc()
		m.connectionsTotal.WithLabelValues(mode.String(), "connected").Inc()
	}
	if old == StatusConnected && new != StatusConnected {
		m.connectionsActive.WithLabelValues(mode.String()).Dec()
	}
}

// observeHandshake records the time from TCP connect to StatusConnected.
func (m *metricSet) observeHandshake(d float64) {
	m.handshakeDuration.Observe(d)
}

func (m *metricSet) observeFailure(mode Mode, kind ErrorKind) {
	m.connectionsTotal.WithLabelValues(mode.String(), kind.String()).Inc()
}
