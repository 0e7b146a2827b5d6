package resilience

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker wraps gobreaker with caravel defaults. It is used around remote
// command execution so an unreachable host fails fast instead of forcing
// every remaining step through a full SSH timeout.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// BreakerOption configures a Breaker.
type BreakerOption func(*gobreaker.Settings)

// WithFailureThreshold sets the number of consecutive failures before the
// breaker opens.
func WithFailureThreshold(n uint32) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= n
		}
	}
}

// WithOpenTimeout sets how long the breaker stays open before probing again.
func WithOpenTimeout(d time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) { s.Timeout = d }
}

// WithOnStateChange sets a callback for breaker state transitions.
func WithOnStateChange(fn func(name, from, to string)) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.OnStateChange = func(name string, from, to gobreaker.State) {
			fn(name, from.String(), to.String())
		}
	}
}

// NewBreaker creates a circuit breaker. Defaults: trip after 5 consecutive
// failures, stay open 30s, allow 3 probes half-open.
func NewBreaker(name string, opts ...BreakerOption) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	for _, opt := range opts {
		opt(&settings)
	}

	return &Breaker{
		cb:   gobreaker.NewCircuitBreaker[any](settings),
		name: name,
	}
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}

// State returns the current breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}
