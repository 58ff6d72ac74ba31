// Package metrics exposes session counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/srg/rsslink/internal/queue"
	"github.com/srg/rsslink/internal/session"
)

const namespace = "rsslink"

// Collector counts connection attempts and GATT operations and tracks the
// session state and queue depth. It implements session.Observer.
type Collector struct {
	attempts   *prometheus.CounterVec
	operations *prometheus.CounterVec
	state      *prometheus.GaugeVec
	queueDepth prometheus.Gauge
}

var _ session.Observer = (*Collector)(nil)

var states = []session.State{
	session.Uninitialized,
	session.Scanning,
	session.Connecting,
	session.DiscoveringServices,
	session.Ready,
	session.Disconnected,
}

// NewCollector creates the metrics without registering them.
func NewCollector() *Collector {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Connection attempts by outcome.",
		}, []string{"outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gatt_operations_total",
			Help:      "Completed GATT operations by kind and outcome.",
		}, []string{"kind", "outcome"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 for the others.",
		}, []string{"state"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operation_queue_depth",
			Help:      "Operations queued or in flight.",
		}),
	}
	c.StateChanged(session.Uninitialized)
	return c
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		c.attempts,
		c.operations,
		c.state,
		c.queueDepth,
	)
}

func (c *Collector) ConnectionAttempt(outcome string) {
	c.attempts.WithLabelValues(outcome).Inc()
}

func (c *Collector) OperationDone(kind queue.Kind, outcome string) {
	c.operations.WithLabelValues(kind.String(), outcome).Inc()
}

func (c *Collector) StateChanged(state session.State) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(s.String()).Set(v)
	}
}

func (c *Collector) QueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}
