// Package metrics exposes router activity as Prometheus metrics on a
// dedicated registry.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "taskrouter"

// Attempt outcomes.
const (
	OutcomeSuccess = "success"
)

// Collector owns every router metric. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	exhausted       *prometheus.CounterVec
	repairs         *prometheus.CounterVec
	healthy         *healthCollector
}

// HealthSample is one provider's health for one task at scrape time.
type HealthSample struct {
	Task     string
	Provider string
	Healthy  bool
}

// healthCollector reads provider health on every scrape so a cooldown that
// expires between attempts is reported without waiting for the next call.
type healthCollector struct {
	desc *prometheus.Desc

	mu     sync.Mutex
	source func() []HealthSample
}

func (h *healthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- h.desc
}

func (h *healthCollector) Collect(ch chan<- prometheus.Metric) {
	h.mu.Lock()
	source := h.source
	h.mu.Unlock()
	if source == nil {
		return
	}
	for _, s := range source() {
		v := 0.0
		if s.Healthy {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(h.desc, prometheus.GaugeValue, v, s.Task, s.Provider)
	}
}

// NewCollector creates a collector. A nil registry gets a fresh one with
// the Go and process collectors registered.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	c := &Collector{
		registry: registry,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Provider attempts by task, provider and outcome (success or failure kind).",
		}, []string{"task", "provider", "outcome"}),
		attemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of a single provider attempt.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"task", "provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Calls that succeeded on a provider other than the first in order.",
		}, []string{"task", "provider"}),
		exhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exhausted_total",
			Help:      "Calls that failed on every provider, by final failure kind.",
		}, []string{"task", "kind"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "json_repairs_total",
			Help:      "JSON repair round-trips by provider and result.",
		}, []string{"provider", "result"}),
		healthy: &healthCollector{
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", "provider_healthy"),
				"1 when the provider is healthy for the task, 0 while in cooldown.",
				[]string{"task", "provider"}, nil,
			),
		},
	}

	registry.MustRegister(c.attempts, c.attemptDuration, c.fallbacks, c.exhausted, c.repairs, c.healthy)
	return c
}

// Registry returns the registry metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveAttempt records one provider attempt.
func (c *Collector) ObserveAttempt(task, provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.attempts.WithLabelValues(task, provider, outcome).Inc()
	c.attemptDuration.WithLabelValues(task, provider).Observe(elapsed.Seconds())
}

// ObserveFallback records a call served by a fallback provider.
func (c *Collector) ObserveFallback(task, provider string) {
	if c == nil {
		return
	}
	c.fallbacks.WithLabelValues(task, provider).Inc()
}

// ObserveExhausted records a call that no provider could serve.
func (c *Collector) ObserveExhausted(task, kind string) {
	if c == nil {
		return
	}
	c.exhausted.WithLabelValues(task, kind).Inc()
}

// ObserveRepair records a JSON repair round-trip.
func (c *Collector) ObserveRepair(provider string, succeeded bool) {
	if c == nil {
		return
	}
	result := "failed"
	if succeeded {
		result = "repaired"
	}
	c.repairs.WithLabelValues(provider, result).Inc()
}

// ObserveHealth makes source the reader behind the provider_healthy gauge.
// It is called on every scrape.
func (c *Collector) ObserveHealth(source func() []HealthSample) {
	if c == nil {
		return
	}
	c.healthy.mu.Lock()
	c.healthy.source = source
	c.healthy.mu.Unlock()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
