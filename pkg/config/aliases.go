package config

import (
	"fmt"
	"sort"

	"github.com/zen-systems/taskrouter/pkg/adapter"
)

// ModelAliases maps short names to model ids and lists the models each
// provider is known to serve.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ValidateModel checks if a model exists in the provider's list.
func (a *ModelAliases) ValidateModel(provider adapter.Provider, model string) error {
	if a == nil || a.Providers == nil {
		return nil
	}

	models, ok := a.Providers[string(provider)]
	if !ok {
		return nil
	}
	for _, m := range models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("model %q not in %s provider list", model, provider)
}

// ListAliases returns the alias names in sorted order.
func (a *ModelAliases) ListAliases() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Aliases))
	for k := range a.Aliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ValidateModels checks every model the live settings would use against
// the provider lists. Returns one error per unknown model.
func (l *Live) ValidateModels() []error {
	var errs []error
	for _, p := range adapter.Providers() {
		caps := []adapter.Capability{adapter.CapabilityChat, adapter.CapabilitySearch}
		if p == adapter.OpenAI {
			caps = append(caps, adapter.CapabilityVision)
		}
		for _, c := range caps {
			model := l.Model(p, c)
			if err := l.cfg.Models.ValidateModel(p, model); err != nil {
				errs = append(errs, fmt.Errorf("%s %s: %w", p, c, err))
			}
		}
	}
	return errs
}
