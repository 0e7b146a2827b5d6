package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("bad credentials")
	attempts := 0

	err := Retry(context.Background(), func() error {
		attempts++
		return permanent
	}, WithInitialDelay(time.Millisecond), WithClassifier(func(error) bool { return false }))

	require.Error(t, err)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestRetryRespectsMaxRetries(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return errors.New("still failing")
	}, WithInitialDelay(time.Millisecond), WithMaxDelay(time.Millisecond), WithMaxRetries(2))

	require.Error(t, err)
	assert.Equal(t, 3, attempts, "initial attempt plus two retries")
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Retry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient")
	}, WithInitialDelay(time.Hour))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryNotifiesOnRetry(t *testing.T) {
	var notified int
	attempts := 0

	err := Retry(context.Background(), func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	}, WithInitialDelay(time.Millisecond), WithOnRetry(func(err error, wait time.Duration) {
		notified++
	}))

	require.NoError(t, err)
	assert.Equal(t, 1, notified)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(errors.New("connection reset")))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	breaker := NewBreaker("test", WithFailureThreshold(2), WithOpenTimeout(time.Minute))

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		err := breaker.Execute(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, "open", breaker.State())

	calls := 0
	err := breaker.Execute(func() error { calls++; return nil })
	require.Error(t, err, "an open breaker rejects without calling through")
	assert.Equal(t, 0, calls)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	breaker := NewBreaker("test")

	for i := 0; i < 10; i++ {
		require.NoError(t, breaker.Execute(func() error { return nil }))
	}
	assert.Equal(t, "closed", breaker.State())
	assert.Equal(t, "test", breaker.Name())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string
	breaker := NewBreaker("test",
		WithFailureThreshold(1),
		WithOnStateChange(func(name, from, to string) {
			transitions = append(transitions, from+"->"+to)
		}),
	)

	_ = breaker.Execute(func() error { return errors.New("boom") })

	require.NotEmpty(t, transitions)
	assert.Equal(t, "closed->open", transitions[0])
}
