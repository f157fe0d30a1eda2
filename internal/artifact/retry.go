package artifact

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jamesacres/bubblyclouds-auth/internal/metrics"
)

// DefaultMaxAttempts bounds every retried read.
const DefaultMaxAttempts = 5

// RetryOption tunes a retrying backend.
type RetryOption func(*retryingBackend)

// WithMaxAttempts sets the attempt ceiling (first try included).
func WithMaxAttempts(n int) RetryOption {
	return func(r *retryingBackend) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) RetryOption {
	return func(r *retryingBackend) { r.initialInterval = d }
}

// WithRetryMetrics reports each retry.
func WithRetryMetrics(m metrics.Recorder) RetryOption {
	return func(r *retryingBackend) { r.metrics = m }
}

// retryingBackend retries Get and QueryIndex with jittered exponential
// backoff. Writes pass straight through.
type retryingBackend struct {
	Backend
	maxAttempts     int
	initialInterval time.Duration
	metrics         metrics.Recorder
}

// WithReadRetry decorates b so that transient read failures are retried.
// ErrNotFound and context errors are returned immediately.
func WithReadRetry(b Backend, opts ...RetryOption) Backend {
	r := &retryingBackend{
		Backend:         b,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 50 * time.Millisecond,
		metrics:         metrics.Nop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryingBackend) Get(ctx context.Context, kind Kind, id string) (*Record, error) {
	return retryRead(ctx, r, kind, func() (*Record, error) {
		return r.Backend.Get(ctx, kind, id)
	})
}

func (r *retryingBackend) QueryIndex(ctx context.Context, kind Kind, index Index, value string) (*Record, error) {
	return retryRead(ctx, r, kind, func() (*Record, error) {
		return r.Backend.QueryIndex(ctx, kind, index, value)
	})
}

func retryRead(ctx context.Context, r *retryingBackend, kind Kind, read func() (*Record, error)) (*Record, error) {
	op := func() (*Record, error) {
		rec, err := read()
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	notify := func(err error, wait time.Duration) {
		r.metrics.RecordStoreRetry(string(kind))
		log.Printf("[Store] %s read failed, retrying in %s: %v", kind, wait, err)
	}
	return backoff.RetryNotifyWithData(op, r.newBackOff(ctx), notify)
}

func (r *retryingBackend) newBackOff(ctx context.Context) backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     r.initialInterval,
		RandomizationFactor: 1, // each delay drawn from [0, 2x]
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxAttempts-1)), ctx)
}
