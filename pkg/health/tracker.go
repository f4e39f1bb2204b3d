// Package health tracks rolling provider failures per task type and marks
// providers unhealthy for a cooldown once they fail too often.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/task"
)

const (
	DefaultFailureWindow = 5 * time.Minute
	DefaultThreshold     = 3
	DefaultCooldown      = 60 * time.Second
)

// Key scopes health to one provider for one task type.
type Key struct {
	Task     task.Type
	Provider adapter.Provider
}

type state struct {
	failures       []time.Time
	unhealthyUntil time.Time
}

// Status is a point-in-time view of one key, safe to serialize.
type Status struct {
	Task           task.Type        `json:"task"`
	Provider       adapter.Provider `json:"provider"`
	Failures       int              `json:"failures"`
	UnhealthyUntil *time.Time       `json:"unhealthy_until,omitempty"`
	Healthy        bool             `json:"healthy"`
}

// Tracker is a sliding-window circuit breaker. It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	states    map[Key]*state
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithWindow sets how long a failure counts toward the threshold.
func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithThreshold sets how many failures inside the window trip the breaker.
func WithThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithCooldown sets how long a tripped provider stays unhealthy.
func WithCooldown(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker with the default 5m window, threshold of 3
// and 60s cooldown.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		window:    DefaultFailureWindow,
		threshold: DefaultThreshold,
		cooldown:  DefaultCooldown,
		now:       time.Now,
		states:    make(map[Key]*state),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure counts a failure and reports whether the provider is now
// unhealthy for the task.
func (t *Tracker) RecordFailure(tt task.Type, p adapter.Provider) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	key := Key{Task: tt, Provider: p}
	s, ok := t.states[key]
	if !ok {
		s = &state{}
		t.states[key] = s
	}

	s.failures = append(prune(s.failures, now.Add(-t.window)), now)
	if len(s.failures) >= t.threshold {
		s.unhealthyUntil = now.Add(t.cooldown)
	}
	return s.unhealthyUntil.After(now)
}

// RecordSuccess clears every failure and unhealthy marker for the key.
func (t *Tracker) RecordSuccess(tt task.Type, p adapter.Provider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, Key{Task: tt, Provider: p})
}

// IsHealthy reports whether the provider's cooldown, if any, has elapsed.
func (t *Tracker) IsHealthy(tt task.Type, p adapter.Provider) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[Key{Task: tt, Provider: p}]
	if !ok {
		return true
	}
	return !s.unhealthyUntil.After(t.now())
}

// Snapshot returns the state of every key with recorded failures, sorted
// by task then provider.
func (t *Tracker) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)
	out := make([]Status, 0, len(t.states))
	for key, s := range t.states {
		st := Status{
			Task:     key.Task,
			Provider: key.Provider,
			Failures: countSince(s.failures, cutoff),
			Healthy:  !s.unhealthyUntil.After(now),
		}
		if !st.Healthy {
			until := s.unhealthyUntil
			st.UnhealthyUntil = &until
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Task == out[j].Task {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Task < out[j].Task
	})
	return out
}

// prune drops failures at or before cutoff. Failures are kept in order.
func prune(failures []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(failures) && !failures[i].After(cutoff) {
		i++
	}
	return failures[i:]
}

func countSince(failures []time.Time, cutoff time.Time) int {
	return len(prune(failures, cutoff))
}
