package adapter

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/zen-systems/taskrouter/pkg/failure"
)

// normalizeError classifies err and stamps it with the provider name.
func normalizeError(p Provider, err error) error {
	if err == nil {
		return nil
	}
	e := failure.Classify(err)
	if e.Provider != "" {
		return e
	}
	stamped := *e
	stamped.Provider = string(p)
	return &stamped
}

// statusError builds a provider_http_error from a non-2xx response body.
func statusError(p Provider, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return failure.HTTP(string(p), status, fmt.Errorf("%s API returned status %d: %s", p, status, msg))
}

// emptyResponse reports a provider that answered with nothing usable.
func emptyResponse(p Provider, what string) error {
	e := failure.New(failure.EmptyResponse, "%s returned %s", p, what)
	e.Provider = string(p)
	return e
}

// missingKey reports a provider called without a configured credential.
func missingKey(p Provider) error {
	e := failure.New(failure.NoProviderAvailable, "%s API key is not configured", p)
	e.Provider = string(p)
	return e
}

// wait blocks on the limiter. A wait that cannot finish before the attempt
// deadline counts as a timeout.
func wait(ctx context.Context, p Provider, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return normalizeError(p, ctxErr)
		}
		return failure.Deadline(string(p), err)
	}
	return nil
}
