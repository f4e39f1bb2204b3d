// Package schema validates decoded JSON values against caller-supplied
// shapes before they are handed back as typed results.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Validator checks a decoded JSON value (maps, slices, float64, string,
// bool, nil). The returned error describes the first problem found.
type Validator interface {
	Validate(v any) error
}

// Func adapts a plain function to Validator.
type Func func(v any) error

// Validate calls f(v).
func (f Func) Validate(v any) error {
	return f(v)
}

// JSONSchema is a compiled JSON Schema document.
type JSONSchema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

// Compile parses and resolves a JSON Schema document.
func Compile(raw []byte) (*JSONSchema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return &JSONSchema{raw: append(json.RawMessage(nil), raw...), resolved: resolved}, nil
}

// MustCompile is like Compile but panics on error. Intended for schemas
// embedded in source.
func MustCompile(raw string) *JSONSchema {
	s, err := Compile([]byte(raw))
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks v against the schema. Numbers are never coerced from
// strings.
func (s *JSONSchema) Validate(v any) error {
	return s.resolved.Validate(v)
}

// Raw returns the schema document as given to Compile.
func (s *JSONSchema) Raw() json.RawMessage {
	return s.raw
}
