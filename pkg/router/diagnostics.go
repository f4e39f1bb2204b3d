package router

import (
	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/health"
	"github.com/zen-systems/taskrouter/pkg/task"
)

// Diagnostics is a read-only snapshot of routing state for health checks.
type Diagnostics struct {
	RoutingMode          Mode                           `json:"routingMode"`
	ProviderAvailability map[adapter.Provider]bool      `json:"providerAvailability"`
	LastProviderByTask   map[task.Type]adapter.Provider `json:"lastProviderByTask"`
	Health               []health.Status                `json:"health,omitempty"`
}

// Diagnostics returns the current routing mode, which providers are
// registered and configured, the provider that last succeeded per task
// and any recorded health failures.
func (r *Router) Diagnostics() Diagnostics {
	availability := make(map[adapter.Provider]bool, len(adapter.Providers()))
	for _, p := range adapter.Providers() {
		a, ok := r.adapters[p]
		availability[p] = ok && a.Available()
	}

	r.diagMu.Lock()
	last := make(map[task.Type]adapter.Provider, len(r.lastProvider))
	for t, p := range r.lastProvider {
		last[t] = p
	}
	r.diagMu.Unlock()

	return Diagnostics{
		RoutingMode:          r.Mode(),
		ProviderAvailability: availability,
		LastProviderByTask:   last,
		Health:               r.health.Snapshot(),
	}
}
