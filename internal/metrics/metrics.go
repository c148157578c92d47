// Package metrics counts what the exchange pipeline does. Every method is
// safe on a nil *Metrics so callers never need to check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exchange outcomes.
const (
	OutcomeSent      = "sent"
	OutcomeBusy      = "busy"
	OutcomeNoModel   = "no_model"
	OutcomeFailed    = "failed"
	OutcomeDiscarded = "discarded" // reply arrived after the session ended
)

// Diff triggers.
const (
	TriggerQuiet = "quiet"
	TriggerSave  = "save"
)

// Metrics owns a private registry so several sessions in one test binary do
// not collide.
type Metrics struct {
	registry *prometheus.Registry

	exchanges  *prometheus.CounterVec
	diffs      *prometheus.CounterVec
	skipped    prometheus.Counter
	superseded prometheus.Counter
	latency    prometheus.Histogram
}

// New registers the pipeline collectors plus the Go runtime collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// exchanges counts model exchanges by outcome
		exchanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pairprog_exchanges_total",
			Help: "Model exchanges by outcome",
		}, []string{"outcome"}),
		diffs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pairprog_diffs_total",
			Help: "Diffs computed with a non-empty delta, by trigger",
		}, []string{"trigger"}),
		skipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairprog_diffs_skipped_total",
			Help: "Diff attempts with no delta against the baseline",
		}),
		superseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "pairprog_emissions_superseded_total",
			Help: "Quiet-period emissions dropped because the content changed again",
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pairprog_exchange_duration_seconds",
			Help:    "Model exchange latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}),
	}
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Exchange records one exchange outcome. Latency is only observed for
// exchanges that reached the model.
func (m *Metrics) Exchange(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.latency.Observe(d.Seconds())
	}
}

// DiffComputed records a diff with a delta.
func (m *Metrics) DiffComputed(trigger string) {
	if m == nil {
		return
	}
	m.diffs.WithLabelValues(trigger).Inc()
}

// DiffSkipped records a diff attempt that found nothing to send.
func (m *Metrics) DiffSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// EmissionSuperseded records a quiet-period expiry whose content had
// changed again.
func (m *Metrics) EmissionSuperseded() {
	if m == nil {
		return
	}
	m.superseded.Inc()
}
