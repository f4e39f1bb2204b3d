// Package failure defines the error taxonomy shared by adapters and the
// router. Every error that leaves the router is a *Error.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind tags a failure with the category that drives retry decisions.
type Kind string

const (
	NoProviderAvailable Kind = "no_provider_available"
	ProviderHTTPError   Kind = "provider_http_error"
	Timeout             Kind = "timeout"
	InvalidJSON         Kind = "invalid_json"
	InvalidSchema       Kind = "invalid_schema"
	NetworkError        Kind = "network_error"
	EmptyResponse       Kind = "empty_response"
	Unknown             Kind = "unknown"
)

// Error is a classified routing failure.
type Error struct {
	Kind     Kind
	Status   int
	Provider string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "router error"
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Kind)
	}
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.Status > 0 {
		return fmt.Sprintf("%s (status=%d): %s", prefix, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// HTTP creates a provider_http_error carrying the upstream status.
func HTTP(provider string, status int, err error) *Error {
	return &Error{Kind: ProviderHTTPError, Status: status, Provider: provider, Err: err}
}

// Deadline creates the timeout error produced when an attempt outlives its budget.
func Deadline(provider string, err error) *Error {
	return &Error{
		Kind:     Timeout,
		Status:   http.StatusGatewayTimeout,
		Provider: provider,
		Message:  "provider did not respond before the deadline",
		Err:      err,
	}
}

// Classify converts any error into an *Error. Errors that are already
// classified are returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Deadline("", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Deadline("", err)
		}
		return &Error{Kind: NetworkError, Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &Error{Kind: NetworkError, Err: err}
	}
	return &Error{Kind: Unknown, Err: err}
}

// KindOf returns the kind of err after classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Classify(err).Kind
}

var retryableKinds = map[Kind]bool{
	ProviderHTTPError: true,
	Timeout:           true,
	InvalidJSON:       true,
	InvalidSchema:     true,
	NetworkError:      true,
}

// Retryable reports whether another attempt against the same provider may
// succeed. empty_response and unknown fail fast to the next provider.
func Retryable(err error) bool {
	e := Classify(err)
	if e == nil || !retryableKinds[e.Kind] {
		return false
	}
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
