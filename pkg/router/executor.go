package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zen-systems/taskrouter/pkg/adapter"
	"github.com/zen-systems/taskrouter/pkg/failure"
	"github.com/zen-systems/taskrouter/pkg/metrics"
	"github.com/zen-systems/taskrouter/pkg/task"
)

// runner performs one attempt against one provider. It must honour ctx.
type runner[T any] func(ctx context.Context, a adapter.Adapter) (T, error)

// execute tries each provider in order, at most maxAttemptsPerProvider
// times each, and returns the first result that passes validate. When
// every provider is exhausted the last failure is returned.
func execute[T any](ctx context.Context, r *Router, t task.Type, order []adapter.Provider, run runner[T], validate func(T) error) (*Result[T], error) {
	log := r.logger.With(
		zap.String("request_id", uuid.NewString()),
		zap.String("task", string(t)),
	)

	if len(order) == 0 {
		err := failure.New(failure.NoProviderAvailable, "no provider available for %s", t)
		log.Error("no provider available", zap.String("mode", string(r.Mode())))
		r.metrics.ObserveExhausted(string(t), string(err.Kind))
		return nil, err
	}

	timeout := r.Timeout(t)
	var attempts []Attempt
	var lastErr *failure.Error

	for idx, p := range order {
		a, ok := r.adapters[p]
		if !ok {
			lastErr = failure.New(failure.NoProviderAvailable, "provider %s is not registered", p)
			continue
		}

		bo := r.newBackOff(ctx)
		for attempt := 1; attempt <= maxAttemptsPerProvider; attempt++ {
			start := time.Now()
			data, err := runAttempt(ctx, timeout, a, run, validate)
			elapsed := time.Since(start)

			if err == nil {
				attempts = append(attempts, Attempt{Provider: p, Number: attempt, Elapsed: elapsed})
				r.recordSuccess(t, p)
				r.metrics.ObserveAttempt(string(t), string(p), metrics.OutcomeSuccess, elapsed)
				if idx > 0 {
					r.metrics.ObserveFallback(string(t), string(p))
				}
				log.Info("task completed",
					zap.String("provider", string(p)),
					zap.Int("attempt", attempt),
					zap.Duration("elapsed", elapsed),
					zap.Bool("fallback_used", idx > 0),
				)
				return &Result[T]{Data: data, Provider: p, FallbackUsed: idx > 0, Attempts: attempts}, nil
			}

			if cerr := ctx.Err(); cerr != nil {
				log.Warn("task abandoned by caller",
					zap.String("provider", string(p)),
					zap.Int("attempt", attempt),
					zap.Duration("elapsed", elapsed),
					zap.Error(cerr),
				)
				return nil, callerDone(cerr)
			}

			ferr := withProvider(failure.Classify(err), p)
			attempts = append(attempts, Attempt{
				Provider: p,
				Number:   attempt,
				Elapsed:  elapsed,
				Kind:     ferr.Kind,
				Status:   ferr.Status,
				Error:    ferr.Error(),
			})
			log.Warn("attempt failed",
				zap.String("provider", string(p)),
				zap.Int("attempt", attempt),
				zap.Duration("elapsed", elapsed),
				zap.String("kind", string(ferr.Kind)),
				zap.Int("status", ferr.Status),
				zap.Error(ferr),
			)
			r.metrics.ObserveAttempt(string(t), string(p), string(ferr.Kind), elapsed)
			r.recordFailure(log, t, p)
			lastErr = ferr

			if attempt >= maxAttemptsPerProvider || !failure.Retryable(ferr) {
				break
			}
			if err := waitBackOff(ctx, bo); err != nil {
				return nil, callerDone(err)
			}
		}
	}

	log.Error("all providers exhausted",
		zap.Int("attempts", len(attempts)),
		zap.String("kind", string(lastErr.Kind)),
		zap.Error(lastErr),
	)
	r.metrics.ObserveExhausted(string(t), string(lastErr.Kind))
	return nil, lastErr
}

// runAttempt races run against the attempt deadline. The caller stops
// waiting when the deadline fires even if run ignores its context.
func runAttempt[T any](ctx context.Context, timeout time.Duration, a adapter.Adapter, run runner[T], validate func(T) error) (T, error) {
	var zero T
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data T
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: failure.New(failure.Unknown, "provider call panicked: %v", rec)}
			}
		}()
		data, err := run(attemptCtx, a)
		done <- outcome{data: data, err: err}
	}()

	provider := string(a.Name())
	select {
	case out := <-done:
		if out.err != nil {
			if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
				return zero, failure.Deadline(provider, out.err)
			}
			return zero, out.err
		}
		if validate != nil {
			if err := validate(out.data); err != nil {
				return zero, invalidSchema(err)
			}
		}
		return out.data, nil
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, failure.Deadline(provider, fmt.Errorf("no response within %s: %w", timeout, attemptCtx.Err()))
	}
}

func (r *Router) recordSuccess(t task.Type, p adapter.Provider) {
	r.health.RecordSuccess(t, p)

	r.diagMu.Lock()
	r.lastProvider[t] = p
	r.diagMu.Unlock()
}

func (r *Router) recordFailure(log *zap.Logger, t task.Type, p adapter.Provider) {
	if r.health.RecordFailure(t, p) {
		log.Warn("provider marked unhealthy", zap.String("provider", string(p)))
	}
}

// callerDone converts a cancelled or expired parent context into the
// error surfaced to the caller. It never counts against provider health.
func callerDone(err error) *failure.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		e := failure.Deadline("", err)
		e.Message = "request deadline exceeded"
		return e
	}
	return failure.Wrap(failure.Unknown, err, "request cancelled")
}

// invalidSchema marks a failed validate hook as invalid_schema.
func invalidSchema(err error) *failure.Error {
	var ferr *failure.Error
	if errors.As(err, &ferr) && ferr.Kind == failure.InvalidSchema {
		return ferr
	}
	return failure.Wrap(failure.InvalidSchema, err, "validation failed: %v", err)
}

func withProvider(e *failure.Error, p adapter.Provider) *failure.Error {
	if e.Provider != "" {
		return e
	}
	stamped := *e
	stamped.Provider = string(p)
	return &stamped
}

// newBackOff returns the pause schedule for retries on one provider. The
// interval doubles from the base up to the configured limit.
func (r *Router) newBackOff(ctx context.Context) backoff.BackOffContext {
	if r.baseBackoff <= 0 {
		return backoff.WithContext(&backoff.ZeroBackOff{}, ctx)
	}
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.baseBackoff
	expo.MaxInterval = r.maxBackoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.Reset()
	return backoff.WithContext(expo, ctx)
}

// waitBackOff sleeps for the next interval of bo, returning early with the
// context error if ctx ends first.
func waitBackOff(ctx context.Context, bo backoff.BackOff) error {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		return ctx.Err()
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
