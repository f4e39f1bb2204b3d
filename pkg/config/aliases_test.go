package config

import (
	"testing"

	"github.com/zen-systems/taskrouter/pkg/adapter"
)

func TestResolve(t *testing.T) {
	aliases := &ModelAliases{
		Aliases: map[string]string{
			"fast":   "gpt-4o-mini",
			"search": "sonar-pro",
		},
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "resolve known alias", input: "fast", expected: "gpt-4o-mini"},
		{name: "resolve another alias", input: "search", expected: "sonar-pro"},
		{name: "unknown alias returns input unchanged", input: "unknown-model", expected: "unknown-model"},
		{name: "canonical model returns unchanged", input: "gpt-4o-mini", expected: "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := aliases.Resolve(tt.input)
			if result != tt.expected {
				t.Errorf("Resolve(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestResolve_NilAliases(t *testing.T) {
	var aliases *ModelAliases
	if result := aliases.Resolve("fast"); result != "fast" {
		t.Errorf("Resolve on nil should return input, got %q", result)
	}
}

func TestValidateModel(t *testing.T) {
	aliases := &ModelAliases{
		Providers: map[string][]string{"openai": {"gpt-4o", "gpt-4o-mini"}},
	}
	if err := aliases.ValidateModel(adapter.OpenAI, "gpt-4o"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := aliases.ValidateModel(adapter.OpenAI, "gpt-2"); err == nil {
		t.Errorf("expected error for unlisted model")
	}
	if err := aliases.ValidateModel(adapter.Perplexity, "anything"); err != nil {
		t.Errorf("providers without a list accept any model, got %v", err)
	}
}

func TestLiveValidateModels(t *testing.T) {
	clearEnv(t)
	cfg := &Config{Models: &ModelAliases{
		Providers: map[string][]string{
			"openai": {DefaultOpenAIModel, DefaultOpenAIVisionModel},
		},
	}}
	applyDefaults(cfg)

	errs := cfg.Live().ValidateModels()
	if len(errs) != 1 {
		t.Fatalf("expected only the search model to be flagged, got %v", errs)
	}
}

func TestListAliases(t *testing.T) {
	aliases := &ModelAliases{Aliases: map[string]string{"b": "x", "a": "y"}}
	got := aliases.ListAliases()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("ListAliases = %v", got)
	}
}
