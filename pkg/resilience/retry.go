// Package resilience provides reliability patterns for caravel's transport
// layer: exponential-backoff retries and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryOption configures retry behavior.
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxElapsed   time.Duration
	maxRetries   uint64
	initialDelay time.Duration
	maxDelay     time.Duration
	onRetry      func(err error, wait time.Duration)
	classifier   func(error) bool
}

// WithMaxElapsed sets the maximum total time spent retrying.
func WithMaxElapsed(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.maxElapsed = d }
}

// WithMaxRetries caps the number of retry attempts.
func WithMaxRetries(n uint64) RetryOption {
	return func(c *retryConfig) { c.maxRetries = n }
}

// WithInitialDelay sets the delay before the first retry.
func WithInitialDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.initialDelay = d }
}

// WithMaxDelay caps the delay between retries.
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) { c.maxDelay = d }
}

// WithOnRetry sets a callback invoked before each retry wait.
func WithOnRetry(fn func(err error, wait time.Duration)) RetryOption {
	return func(c *retryConfig) { c.onRetry = fn }
}

// WithClassifier sets the function deciding whether an error is retryable.
func WithClassifier(fn func(error) bool) RetryOption {
	return func(c *retryConfig) { c.classifier = fn }
}

// Retry runs operation with exponential backoff until it succeeds, the
// error is classified permanent, the retry budget is exhausted, or ctx is
// cancelled.
func Retry(ctx context.Context, operation func() error, opts ...RetryOption) error {
	cfg := &retryConfig{
		maxElapsed:   2 * time.Minute,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		classifier:   IsRetryable,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.initialDelay
	b.MaxInterval = cfg.maxDelay
	b.MaxElapsedTime = cfg.maxElapsed
	b.RandomizationFactor = 0.1

	var bo backoff.BackOff = b
	if cfg.maxRetries > 0 {
		bo = backoff.WithMaxRetries(b, cfg.maxRetries)
	}
	bo = backoff.WithContext(bo, ctx)

	wrapped := func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if cfg.classifier != nil && !cfg.classifier(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if cfg.onRetry != nil {
		return backoff.RetryNotify(wrapped, bo, cfg.onRetry)
	}
	return backoff.Retry(wrapped, bo)
}

// IsRetryable reports whether an error is worth retrying. Network errors
// and timeouts are; context cancellation is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// Permanent marks an error as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
