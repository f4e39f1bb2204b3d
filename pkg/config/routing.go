package config

import (
	"fmt"
	"time"

	"github.com/zen-systems/taskrouter/pkg/task"
)

// RoutingConfig holds provider ordering and resilience tunables.
type RoutingConfig struct {
	// Mode is dynamic, openai or perplexity. AI_ROUTING_MODE overrides it.
	Mode       string         `yaml:"mode,omitempty"`
	TimeoutsMs map[string]int `yaml:"timeouts_ms,omitempty"`
	Retry      RetryConfig    `yaml:"retry,omitempty"`
	Health     HealthConfig   `yaml:"health,omitempty"`
}

// RetryConfig defines backoff between attempts on the same provider.
// An explicit zero base disables backoff.
type RetryConfig struct {
	BaseBackoffMs *int `yaml:"base_backoff_ms,omitempty"`
	MaxBackoffMs  int  `yaml:"max_backoff_ms,omitempty"`
}

// HealthConfig defines the failure window that marks a provider unhealthy.
type HealthConfig struct {
	FailureWindowSeconds int `yaml:"failure_window_seconds,omitempty"`
	FailureThreshold     int `yaml:"failure_threshold,omitempty"`
	CooldownSeconds      int `yaml:"cooldown_seconds,omitempty"`
}

// Timeout returns the per-attempt budget for a task.
func (r RoutingConfig) Timeout(t task.Type) time.Duration {
	if ms, ok := r.TimeoutsMs[string(t)]; ok && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return t.Timeout()
}

// Backoff returns the base and max backoff durations.
func (r RoutingConfig) Backoff() (time.Duration, time.Duration) {
	base := 0
	if r.Retry.BaseBackoffMs != nil {
		base = *r.Retry.BaseBackoffMs
	}
	return time.Duration(base) * time.Millisecond, time.Duration(r.Retry.MaxBackoffMs) * time.Millisecond
}

// Window returns the failure window, threshold and cooldown.
func (h HealthConfig) Window() (time.Duration, int, time.Duration) {
	return time.Duration(h.FailureWindowSeconds) * time.Second,
		h.FailureThreshold,
		time.Duration(h.CooldownSeconds) * time.Second
}

func (r RoutingConfig) validate() error {
	for name, ms := range r.TimeoutsMs {
		if _, err := task.Parse(name); err != nil {
			return fmt.Errorf("timeouts_ms: %w", err)
		}
		if ms < 0 {
			return fmt.Errorf("timeouts_ms.%s must not be negative", name)
		}
	}
	if r.Retry.BaseBackoffMs != nil && *r.Retry.BaseBackoffMs < 0 {
		return fmt.Errorf("retry.base_backoff_ms must not be negative")
	}
	return nil
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if cfg.Retry.BaseBackoffMs == nil {
		base := 200
		cfg.Retry.BaseBackoffMs = &base
	}
	if cfg.Retry.MaxBackoffMs == 0 {
		cfg.Retry.MaxBackoffMs = 2000
	}
	if cfg.Retry.MaxBackoffMs < *cfg.Retry.BaseBackoffMs {
		cfg.Retry.MaxBackoffMs = *cfg.Retry.BaseBackoffMs
	}
	if cfg.Health.FailureWindowSeconds == 0 {
		cfg.Health.FailureWindowSeconds = 300
	}
	if cfg.Health.FailureThreshold == 0 {
		cfg.Health.FailureThreshold = 3
	}
	if cfg.Health.CooldownSeconds == 0 {
		cfg.Health.CooldownSeconds = 60
	}
}
