// Package metrics records mediator dispatches as Prometheus metrics through
// the mediator's hooks.
//
//	mx := metrics.New("myapp", prometheus.DefaultRegisterer)
//	m := mediator.New(reg, mx.Options()...)
package metrics

import (
	"context"
	"time"

	"github.com/bjaus/mediator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the dispatch collectors.
type Metrics struct {
	inFlight *prometheus.GaugeVec
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	handled  *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// A nil reg leaves them unregistered.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		inFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "mediator",
				Name:      "dispatches_in_flight",
				Help:      "Dispatches currently executing.",
			},
			[]string{"kind"},
		),
		total: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mediator",
				Name:      "dispatches_total",
				Help:      "Completed dispatches by outcome.",
			},
			[]string{"kind", "message", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "mediator",
				Name:      "dispatch_duration_seconds",
				Help:      "Dispatch duration in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"kind", "message"},
		),
		handled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "mediator",
				Name:      "exceptions_handled_total",
				Help:      "Failures consumed by an exception handler.",
			},
			[]string{"kind", "message"},
		),
	}
}

// Options returns the mediator hooks that feed the collectors.
func (m *Metrics) Options() []mediator.Option {
	return []mediator.Option{
		mediator.WithOnDispatch(m.onDispatch),
		mediator.WithOnSuccess(m.onSuccess),
		mediator.WithOnFailure(m.onFailure),
		mediator.WithOnHandled(m.onHandled),
	}
}

func (m *Metrics) onDispatch(_ context.Context, c *mediator.Context) {
	m.inFlight.WithLabelValues(string(c.Kind())).Inc()
}

func (m *Metrics) onSuccess(_ context.Context, c *mediator.Context, d time.Duration) {
	m.done(c, "success", d)
}

func (m *Metrics) onFailure(_ context.Context, c *mediator.Context, _ error, d time.Duration) {
	m.done(c, "failure", d)
}

func (m *Metrics) onHandled(_ context.Context, c *mediator.Context, _ error) {
	m.handled.WithLabelValues(string(c.Kind()), message(c)).Inc()
}

func (m *Metrics) done(c *mediator.Context, outcome string, d time.Duration) {
	kind, msg := string(c.Kind()), message(c)
	m.inFlight.WithLabelValues(kind).Dec()
	m.total.WithLabelValues(kind, msg, outcome).Inc()
	m.duration.WithLabelValues(kind, msg).Observe(d.Seconds())
}

func message(c *mediator.Context) string {
	return mediator.TypeName(c.MessageType())
}
