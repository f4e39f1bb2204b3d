// Package task defines the categories of AI work the router accepts.
package task

import (
	"fmt"
	"time"

	"github.com/zen-systems/taskrouter/pkg/adapter"
)

// Type is a category of AI work with its own timeout and provider preference.
type Type string

const (
	WebSearch            Type = "web_search"
	StructuredExtraction Type = "structured_extraction_json"
	FreeformGeneration   Type = "freeform_generation"
	VisionAnalysis       Type = "vision_analysis"
)

const (
	searchTimeout  = 12 * time.Second
	defaultTimeout = 10 * time.Second
)

// All lists every task type in a stable order.
func All() []Type {
	return []Type{WebSearch, StructuredExtraction, FreeformGeneration, VisionAnalysis}
}

// Parse converts a string into a Type.
func Parse(s string) (Type, error) {
	for _, t := range All() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

// Timeout is the default per-attempt budget for the task.
func (t Type) Timeout() time.Duration {
	if t == WebSearch {
		return searchTimeout
	}
	return defaultTimeout
}

// Preference is the provider order used in dynamic routing.
func (t Type) Preference() []adapter.Provider {
	switch t {
	case WebSearch:
		return []adapter.Provider{adapter.Perplexity, adapter.OpenAI}
	case VisionAnalysis:
		return []adapter.Provider{adapter.OpenAI}
	default:
		return []adapter.Provider{adapter.OpenAI, adapter.Perplexity}
	}
}

// Supports reports whether a registered adapter can run the task.
func (t Type) Supports(a adapter.Adapter) bool {
	switch t {
	case WebSearch:
		_, ok := a.(adapter.Searcher)
		return ok
	case VisionAnalysis:
		_, ok := a.(adapter.VisionCompleter)
		return ok
	case StructuredExtraction, FreeformGeneration:
		_, ok := a.(adapter.Completer)
		return ok
	default:
		return false
	}
}
