// Package repair turns unreliable provider text into validated JSON, giving
// malformed output exactly one repair round-trip.
package repair

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/failure"
	"github.com/zen-systems/taskrouter/pkg/schema"
)

var objectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Parsed is a successfully decoded and validated JSON value.
type Parsed struct {
	// Value is the generic decoding (maps, slices, float64...).
	Value any
	// Raw is the exact JSON text that decoded.
	Raw json.RawMessage
	// Repaired is true when the value came from the repair round-trip.
	Repaired bool
}

// RepairObserver is told about every repair round-trip.
type RepairObserver func(provider adapter.Provider, succeeded bool)

// Parser parses provider output with a single repair fallback.
type Parser struct {
	logger   *zap.Logger
	observer RepairObserver
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for repair events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRepairObserver registers a callback for repair outcomes.
func WithRepairObserver(fn RepairObserver) Option {
	return func(p *Parser) {
		p.observer = fn
	}
}

// NewParser creates a Parser.
func NewParser(opts ...Option) *Parser {
	p := &Parser{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes raw using the trimmed text, then the first {...} span.
func Parse(raw string) (any, json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	var firstErr error
	for _, candidate := range candidates(trimmed) {
		var v any
		err := json.Unmarshal([]byte(candidate), &v)
		if err == nil {
			return v, json.RawMessage(candidate), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = errors.New("empty content")
	}
	return nil, nil, firstErr
}

func candidates(trimmed string) []string {
	out := make([]string, 0, 2)
	if trimmed != "" {
		out = append(out, trimmed)
	}
	if m := objectPattern.FindString(trimmed); m != "" && m != trimmed {
		out = append(out, m)
	}
	return out
}

// ParseWithRepair parses raw and validates it. When neither candidate
// parses, the completer (the provider that produced raw) is asked once to
// repair it. A nil completer skips the repair pass. A nil validator skips
// validation.
func (p *Parser) ParseWithRepair(ctx context.Context, c adapter.Completer, raw string, v schema.Validator) (*Parsed, error) {
	value, text, err := Parse(raw)
	repaired := false
	if err != nil {
		value, text, err = p.repair(ctx, c, raw, err)
		if err != nil {
			return nil, err
		}
		repaired = true
	}

	if v != nil {
		if verr := v.Validate(value); verr != nil {
			e := failure.Wrap(failure.InvalidSchema, verr, "%s", verr.Error())
			if c != nil {
				e.Provider = string(c.Name())
			}
			return nil, e
		}
	}
	return &Parsed{Value: value, Raw: text, Repaired: repaired}, nil
}

func (p *Parser) repair(ctx context.Context, c adapter.Completer, raw string, cause error) (any, json.RawMessage, error) {
	if c == nil {
		return nil, nil, failure.Wrap(failure.InvalidJSON, cause, "output is not valid JSON and no repair provider is available")
	}
	provider := c.Name()
	p.logger.Warn("output is not valid JSON, requesting repair",
		zap.String("provider", string(provider)),
		zap.Int("raw_len", len(raw)),
		zap.Error(cause),
	)

	comp, err := c.Complete(ctx, adapter.CompletionRequest{
		System: Instruction,
		Prompt: GenerateRepairPrompt(raw, cause),
		JSON:   true,
	})
	if err != nil {
		p.observe(provider, false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, failure.Classify(ctxErr)
		}
		e := failure.Wrap(failure.InvalidJSON, err, "repair request failed: %v", err)
		e.Provider = string(provider)
		return nil, nil, e
	}

	value, text, perr := Parse(comp.Text)
	if perr != nil {
		p.observe(provider, false)
		e := failure.Wrap(failure.InvalidJSON, perr, "repaired output is still not valid JSON: %v", perr)
		e.Provider = string(provider)
		return nil, nil, e
	}

	p.observe(provider, true)
	p.logger.Info("repaired malformed JSON", zap.String("provider", string(provider)))
	return value, text, nil
}

func (p *Parser) observe(provider adapter.Provider, ok bool) {
	if p.observer != nil {
		p.observer(provider, ok)
	}
}

// Decode converts a parsed value into T. A value that does not fit T is an
// invalid_schema failure.
func Decode[T any](parsed *Parsed) (T, error) {
	var out T
	if err := json.Unmarshal(parsed.Raw, &out); err != nil {
		return out, failure.Wrap(failure.InvalidSchema, err, "decode into %T: %v", out, err)
	}
	return out, nil
}
