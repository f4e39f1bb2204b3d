package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/failure"
	"github.com/zen-systems/taskrouter/pkg/repair"
	"github.com/zen-systems/taskrouter/pkg/schema"
	"github.com/zen-systems/taskrouter/pkg/task"
)

// SearchOptions configures a web search.
type SearchOptions struct {
	System    string
	Query     string
	MaxTokens int
	// Validate optionally rejects an answer; a rejection is invalid_schema.
	Validate func(SearchData) error
}

// SearchData is a search answer with its source citations.
type SearchData struct {
	RawText     string               `json:"rawText"`
	Annotations []adapter.Annotation `json:"annotations"`
}

// TextOptions configures free-form generation.
type TextOptions struct {
	System      string
	Prompt      string
	Temperature *float64
	MaxTokens   int
}

// ExtractOptions configures structured extraction into T.
type ExtractOptions[T any] struct {
	System      string
	Prompt      string
	Schema      schema.Validator
	Temperature *float64
	MaxTokens   int
	// Validate optionally checks the decoded value; a rejection is
	// invalid_schema.
	Validate func(T) error
}

// VisionOptions configures image analysis returning JSON decoded into T.
type VisionOptions[T any] struct {
	System    string
	Prompt    string
	Images    []adapter.Image
	Schema    schema.Validator
	MaxTokens int
	Validate  func(T) error
}

// WebSearch answers a query with a search-capable provider.
func (r *Router) WebSearch(ctx context.Context, opts SearchOptions) (*Result[SearchData], error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, failure.New(failure.Unknown, "search query is empty")
	}
	run := func(ctx context.Context, a adapter.Adapter) (SearchData, error) {
		s, ok := a.(adapter.Searcher)
		if !ok {
			return SearchData{}, unsupported(a, task.WebSearch)
		}
		res, err := s.Search(ctx, adapter.SearchRequest{System: opts.System, Query: opts.Query, MaxTokens: opts.MaxTokens})
		if err != nil {
			return SearchData{}, err
		}
		return SearchData{RawText: res.RawText, Annotations: res.Annotations}, nil
	}
	return execute[SearchData](ctx, r, task.WebSearch, r.ResolveOrder(task.WebSearch), run, opts.Validate)
}

// GenerateText produces free-form text.
func (r *Router) GenerateText(ctx context.Context, opts TextOptions) (*Result[string], error) {
	run := func(ctx context.Context, a adapter.Adapter) (string, error) {
		c, ok := a.(adapter.Completer)
		if !ok {
			return "", unsupported(a, task.FreeformGeneration)
		}
		comp, err := c.Complete(ctx, adapter.CompletionRequest{
			System:      opts.System,
			Prompt:      opts.Prompt,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return comp.Text, nil
	}
	return execute[string](ctx, r, task.FreeformGeneration, r.ResolveOrder(task.FreeformGeneration), run, nil)
}

// ExtractStructuredJSON asks for a JSON object, repairs it once if it does
// not parse, validates it against opts.Schema and decodes it into T.
func ExtractStructuredJSON[T any](ctx context.Context, r *Router, opts ExtractOptions[T]) (*Result[T], error) {
	run := func(ctx context.Context, a adapter.Adapter) (T, error) {
		var zero T
		c, ok := a.(adapter.Completer)
		if !ok {
			return zero, unsupported(a, task.StructuredExtraction)
		}
		comp, err := c.Complete(ctx, adapter.CompletionRequest{
			System:      opts.System,
			Prompt:      opts.Prompt,
			JSON:        true,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			return zero, err
		}
		return parseInto[T](ctx, r, c, comp.Text, opts.Schema)
	}
	return execute[T](ctx, r, task.StructuredExtraction, r.ResolveOrder(task.StructuredExtraction), run, opts.Validate)
}

// AnalyseVisionJSON sends images with a prompt and decodes the JSON answer
// into T. Malformed JSON is repaired through the same provider when it can
// also complete text.
func AnalyseVisionJSON[T any](ctx context.Context, r *Router, opts VisionOptions[T]) (*Result[T], error) {
	if len(opts.Images) == 0 {
		return nil, failure.New(failure.Unknown, "vision analysis needs at least one image")
	}
	run := func(ctx context.Context, a adapter.Adapter) (T, error) {
		var zero T
		v, ok := a.(adapter.VisionCompleter)
		if !ok {
			return zero, unsupported(a, task.VisionAnalysis)
		}
		comp, err := v.CompleteVision(ctx, adapter.VisionRequest{
			System:    opts.System,
			Prompt:    opts.Prompt,
			Images:    opts.Images,
			MaxTokens: opts.MaxTokens,
		})
		if err != nil {
			return zero, err
		}
		repairer, _ := a.(adapter.Completer)
		return parseInto[T](ctx, r, repairer, comp.Text, opts.Schema)
	}
	return execute[T](ctx, r, task.VisionAnalysis, r.ResolveOrder(task.VisionAnalysis), run, opts.Validate)
}

func parseInto[T any](ctx context.Context, r *Router, c adapter.Completer, raw string, v schema.Validator) (T, error) {
	var zero T
	parsed, err := r.parser.ParseWithRepair(ctx, c, raw, v)
	if err != nil {
		return zero, err
	}
	return repair.Decode[T](parsed)
}

func unsupported(a adapter.Adapter, t task.Type) error {
	e := failure.Wrap(failure.NoProviderAvailable, fmt.Errorf("%s cannot run %s", a.Name(), t), "%s does not support %s", a.Name(), t)
	e.Provider = string(a.Name())
	return e
}
