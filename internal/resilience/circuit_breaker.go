// Package resilience wraps calls to remote backends (embedding providers,
// the cloud storage backend, the federated HTTP backend) with a circuit
// breaker so a sustained outage degrades quickly instead of piling up
// timed-out goroutines against a backend that isn't answering.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the circuit breaker is in the open state
// and rejects calls to let the backend recover.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// BreakerConfig configures a Breaker's trip/reset behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before half-opening.
	Timeout time.Duration
	// HalfOpenMaxSuccesses is consecutive successes required to re-close.
	HalfOpenMaxSuccesses uint32
}

// Metrics is a snapshot of a Breaker's call counters.
type Metrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker wraps gobreaker to protect a backend call from cascading
// failures. It has three states: closed, open, and half-open. In closed
// state calls pass through; after MaxFailures consecutive failures it
// opens and rejects calls; after Timeout it half-opens and allows test
// calls; after HalfOpenMaxSuccesses successes it closes again.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	config  BreakerConfig
	mu      sync.RWMutex
	metrics Metrics
}

// NewBreaker creates a Breaker with default tuning: 3 consecutive
// failures to trip, 30s open duration, 2 successes to re-close.
func NewBreaker(name string) *Breaker {
	return NewBreakerWithConfig(name, BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerWithConfig creates a Breaker with custom tuning.
func NewBreakerWithConfig(name string, config BreakerConfig) *Breaker {
	b := &Breaker{name: name, config: config}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: config.HalfOpenMaxSuccesses,
		Interval:    0,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}

	b.breaker = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker. If the circuit is open it returns
// ErrCircuitOpen immediately without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		b.recordFailure()
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(func() (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		return fn()
	})

	if err != nil {
		b.recordFailure()
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}

	b.recordSuccess()
	return result, nil
}

// State returns "closed", "open", or "half-open".
func (b *Breaker) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics returns a snapshot of the breaker's call counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()

	counts := b.breaker.Counts()
	return Metrics{
		TotalRequests:        b.metrics.TotalRequests,
		TotalSuccesses:       b.metrics.TotalSuccesses,
		TotalFailures:        b.metrics.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++
	b.metrics.TotalSuccesses++
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.TotalRequests++
	b.metrics.TotalFailures++
}

// Retry runs fn up to maxAttempts times with exponential backoff starting
// at baseDelay, each delay jittered to between half and all of its nominal
// value, stopping early on ctx cancellation or success (spec §4.6 retry/backoff policy). attempt is 1-indexed.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		delay := baseDelay * time.Duration(1<<uint(attempt-1))
		jittered := time.Duration(jitterFraction() * float64(delay))
		select {
		case <-time.After(jittered):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// jitterFraction returns a value in [0.5, 1.0), scaling the nominal backoff
// delay to between half and all of itself, without pulling in a dependency
// for one random float.
func jitterFraction() float64 {
	return 0.5 + 0.5*pseudoRandom()
}

var pseudoRandomState = struct {
	mu sync.Mutex
	x  uint64
}{x: uint64(time.Now().UnixNano()) | 1}

// pseudoRandom returns a deterministic-per-process, non-cryptographic
// value in [0, 1) via xorshift64. Retry jitter has no security
// requirement, so a dependency-free PRNG is preferable to wiring
// math/rand/v2 or crypto/rand for a cosmetic spread of retry timings.
func pseudoRandom() float64 {
	pseudoRandomState.mu.Lock()
	defer pseudoRandomState.mu.Unlock()
	x := pseudoRandomState.x
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	pseudoRandomState.x = x
	return float64(x%1_000_000) / 1_000_000.0
}
