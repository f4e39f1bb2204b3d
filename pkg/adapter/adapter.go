package adapter

import (
	"context"
	"fmt"
)

// Provider identifies an upstream AI integration.
type Provider string

const (
	OpenAI     Provider = "openai"
	Perplexity Provider = "perplexity"
)

// Providers lists every known provider in a stable order.
func Providers() []Provider {
	return []Provider{OpenAI, Perplexity}
}

// ParseProvider converts a configuration string into a Provider.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case OpenAI, Perplexity:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Capability selects which model identifier an adapter uses for a call.
type Capability string

const (
	CapabilityChat   Capability = "chat"
	CapabilityVision Capability = "vision"
	CapabilitySearch Capability = "search"
)

// Settings supplies credentials and model identifiers. Implementations are
// consulted on every call so configuration changes apply without a restart.
type Settings interface {
	APIKey(p Provider) string
	Model(p Provider, c Capability) string
}

// Adapter is the base interface for provider adapters. Capabilities are
// exposed through the Completer, Searcher and VisionCompleter interfaces.
type Adapter interface {
	// Name returns the adapter's provider identity.
	Name() Provider

	// Available reports whether the provider's credential is configured.
	Available() bool
}

// Completer runs chat-completion style requests.
type Completer interface {
	Adapter
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// Searcher runs web-search-augmented requests.
type Searcher interface {
	Adapter
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// VisionCompleter runs completions over text plus images.
type VisionCompleter interface {
	Adapter
	CompleteVision(ctx context.Context, req VisionRequest) (*Completion, error)
}
