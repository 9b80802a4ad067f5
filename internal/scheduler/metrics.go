package scheduler

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report scheduler activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	outcomes      *prometheus.CounterVec
	providerCalls *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	skipped       prometheus.Counter
}

// MustNewMetrics constructs scheduler metrics on reg. Collectors already
// registered under the same name are reused; any other registration error
// panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const ns, sub = "batchpoll", "scheduler"

	return &Metrics{
		ticks: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "ticks_total",
			Help: "Number of completed polling ticks.",
		})),
		tickDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "tick_duration_seconds",
			Help:    "Wall time of one polling tick.",
			Buckets: prometheus.DefBuckets,
		})),
		outcomes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "job_outcomes_total",
			Help: "Per-job results of a tick, by outcome.",
		}, []string{"outcome"})),
		providerCalls: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "provider_calls_total",
			Help: "Provider calls by provider and result (ok, retryable, permanent).",
		}, []string{"provider", "result"})),
		callDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub, Name: "provider_call_duration_seconds",
			Help:    "Latency of provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"})),
		inFlight: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "jobs_in_flight",
			Help: "Jobs currently being processed.",
		})),
		skipped: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "jobs_skipped_in_flight_total",
			Help: "Due jobs skipped because an overlapping tick was processing them.",
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) outcome(o string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(o).Inc()
}

func (m *Metrics) providerCall(provider, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, result).Inc()
	m.callDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) jobStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) jobDone() {
	if m != nil {
		m.inFlight.Dec()
	}
}

func (m *Metrics) skippedInFlight() {
	if m != nil {
		m.skipped.Inc()
	}
}
