// Package router sends AI tasks to interchangeable providers. It resolves
// a provider order per call, runs each attempt under a deadline with
// bounded retries, falls back across providers and tracks provider health.
package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/health"
	"github.com/zen-systems/taskrouter/pkg/metrics"
	"github.com/zen-systems/taskrouter/pkg/repair"
	"github.com/zen-systems/taskrouter/pkg/task"
)

const (
	// maxAttemptsPerProvider bounds retries on one provider before moving on.
	maxAttemptsPerProvider = 2

	defaultBaseBackoff = 200 * time.Millisecond
	defaultMaxBackoff  = 2 * time.Second
)

// Settings supplies the routing mode. It is read on every call.
type Settings interface {
	RoutingMode() string
}

// StaticMode is a fixed Settings value.
type StaticMode Mode

// RoutingMode returns the fixed mode.
func (m StaticMode) RoutingMode() string {
	return string(m)
}

// Router is a single shared instance reused across requests. It is safe
// for concurrent use.
type Router struct {
	settings Settings
	adapters map[adapter.Provider]adapter.Adapter

	health   *health.Tracker
	metrics  *metrics.Collector
	logger   *zap.Logger
	parser   *repair.Parser
	timeouts map[task.Type]time.Duration

	baseBackoff time.Duration
	maxBackoff  time.Duration

	diagMu       sync.Mutex
	lastProvider map[task.Type]adapter.Provider
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger for attempt and repair events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records attempts, fallbacks, repairs and health on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) {
		r.metrics = c
	}
}

// WithHealthTracker replaces the default health tracker.
func WithHealthTracker(t *health.Tracker) Option {
	return func(r *Router) {
		if t != nil {
			r.health = t
		}
	}
}

// WithTimeout overrides the per-attempt budget for one task type.
func WithTimeout(t task.Type, d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeouts[t] = d
		}
	}
}

// WithBackoff sets the pause between attempts on the same provider. It
// doubles per attempt up to limit. A zero base disables backoff.
func WithBackoff(base, limit time.Duration) Option {
	return func(r *Router) {
		r.baseBackoff = base
		r.maxBackoff = limit
		if r.maxBackoff < r.baseBackoff {
			r.maxBackoff = r.baseBackoff
		}
	}
}

// New creates a router over the given adapters. A later adapter with the
// same provider name replaces an earlier one.
func New(settings Settings, adapters []adapter.Adapter, opts ...Option) *Router {
	if settings == nil {
		settings = StaticMode(ModeDynamic)
	}
	r := &Router{
		settings:     settings,
		adapters:     make(map[adapter.Provider]adapter.Adapter, len(adapters)),
		logger:       zap.NewNop(),
		timeouts:     make(map[task.Type]time.Duration),
		baseBackoff:  defaultBaseBackoff,
		maxBackoff:   defaultMaxBackoff,
		lastProvider: make(map[task.Type]adapter.Provider),
	}
	for _, a := range adapters {
		if a != nil {
			r.adapters[a.Name()] = a
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.health == nil {
		r.health = health.NewTracker()
	}
	r.parser = repair.NewParser(
		repair.WithLogger(r.logger),
		repair.WithRepairObserver(func(p adapter.Provider, ok bool) {
			r.metrics.ObserveRepair(string(p), ok)
		}),
	)
	r.metrics.ObserveHealth(r.healthSamples)
	return r
}

// Mode returns the routing mode in effect for the next call.
func (r *Router) Mode() Mode {
	return ParseMode(r.settings.RoutingMode())
}

// Health returns the tracker holding per-(task, provider) failure state.
func (r *Router) Health() *health.Tracker {
	return r.health
}

// Timeout returns the per-attempt budget for a task type.
func (r *Router) Timeout(t task.Type) time.Duration {
	if d, ok := r.timeouts[t]; ok {
		return d
	}
	return t.Timeout()
}

// healthSamples reports the health of every registered provider that
// could serve each task type.
func (r *Router) healthSamples() []metrics.HealthSample {
	var out []metrics.HealthSample
	for _, t := range task.All() {
		for _, p := range t.Preference() {
			a, ok := r.adapters[p]
			if !ok || !t.Supports(a) {
				continue
			}
			out = append(out, metrics.HealthSample{
				Task:     string(t),
				Provider: string(p),
				Healthy:  r.health.IsHealthy(t, p),
			})
		}
	}
	return out
}
