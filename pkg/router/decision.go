package router

import (
	"strings"
	"time"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/failure"
	"github.com/zen-systems/taskrouter/pkg/task"
)

// Mode selects how the provider order is built.
type Mode string

const (
	// ModeDynamic uses the task's preference list with unhealthy
	// providers demoted to the end.
	ModeDynamic Mode = "dynamic"
	// ModeOpenAI pins every non-vision task to OpenAI.
	ModeOpenAI Mode = "openai"
	// ModePerplexity pins every non-vision task to Perplexity.
	ModePerplexity Mode = "perplexity"
)

// ParseMode converts a configuration value. Unrecognised values fall back
// to dynamic.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOpenAI:
		return ModeOpenAI
	case ModePerplexity:
		return ModePerplexity
	default:
		return ModeDynamic
	}
}

// pinned returns the provider a pinned mode selects.
func (m Mode) pinned() (adapter.Provider, bool) {
	switch m {
	case ModeOpenAI:
		return adapter.OpenAI, true
	case ModePerplexity:
		return adapter.Perplexity, true
	default:
		return "", false
	}
}

// Skip explains why a provider was left out of an order.
type Skip struct {
	Provider adapter.Provider `json:"provider"`
	Reason   string           `json:"reason"`
}

// Decision captures how an order was resolved.
type Decision struct {
	Task    task.Type          `json:"task"`
	Mode    Mode               `json:"mode"`
	Order   []adapter.Provider `json:"order"`
	Demoted []adapter.Provider `json:"demoted,omitempty"`
	Skipped []Skip             `json:"skipped,omitempty"`
}

// Attempt records one call against one provider.
type Attempt struct {
	Provider adapter.Provider `json:"provider"`
	Number   int              `json:"attempt"`
	Elapsed  time.Duration    `json:"elapsed"`
	Kind     failure.Kind     `json:"kind,omitempty"`
	Status   int              `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Result is the outcome of one capability call. FallbackUsed is true iff
// Provider was not first in the resolved order.
type Result[T any] struct {
	Data         T                `json:"data"`
	Provider     adapter.Provider `json:"provider"`
	FallbackUsed bool             `json:"fallbackUsed"`
	Attempts     []Attempt        `json:"attempts,omitempty"`
}
