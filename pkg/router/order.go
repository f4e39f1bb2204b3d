package router

import (
	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/task"
)

// ResolveOrder returns the providers to try for t, in order. An empty
// result means no provider can serve the task.
func (r *Router) ResolveOrder(t task.Type) []adapter.Provider {
	return r.Explain(t).Order
}

// Explain resolves the order for t and records why providers were left
// out or demoted.
func (r *Router) Explain(t task.Type) Decision {
	mode := r.Mode()
	d := Decision{Task: t, Mode: mode}

	base := t.Preference()
	if p, ok := mode.pinned(); ok && t != task.VisionAnalysis {
		base = []adapter.Provider{p}
	}

	filtered := make([]adapter.Provider, 0, len(base))
	for _, p := range base {
		a, ok := r.adapters[p]
		switch {
		case !ok:
			d.Skipped = append(d.Skipped, Skip{Provider: p, Reason: "not registered"})
		case !t.Supports(a):
			d.Skipped = append(d.Skipped, Skip{Provider: p, Reason: "does not support " + string(t)})
		case !a.Available():
			d.Skipped = append(d.Skipped, Skip{Provider: p, Reason: "not configured"})
		default:
			filtered = append(filtered, p)
		}
	}

	if mode != ModeDynamic {
		d.Order = filtered
		return d
	}

	healthy := make([]adapter.Provider, 0, len(filtered))
	var unhealthy []adapter.Provider
	for _, p := range filtered {
		if r.health.IsHealthy(t, p) {
			healthy = append(healthy, p)
		} else {
			unhealthy = append(unhealthy, p)
		}
	}
	d.Order = append(healthy, unhealthy...)
	d.Demoted = unhealthy
	return d
}
