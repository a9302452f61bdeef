package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState string

const (
	CircuitBreakerClosed   CircuitBreakerState = "closed"
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
	CircuitBreakerOpen     CircuitBreakerState = "open"
)

// ErrCircuitOpen is returned without calling the operation while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker guards calls to a remote dependency. After Threshold
// consecutive failures it rejects calls for Cooldown, then lets a single
// trial call through (half-open).
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock

	mu                  sync.Mutex
	state               CircuitBreakerState
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// Option configures a CircuitBreaker
type Option func(*CircuitBreaker)

// WithClock replaces the wall clock, used by tests
func WithClock(c clock.Clock) Option {
	return func(b *CircuitBreaker) { b.clock = c }
}

// NewCircuitBreaker creates a breaker named after the dependency it guards
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, opts ...Option) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	b := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock.New(),
		state:     CircuitBreakerClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	metrics.SetCircuitBreakerState(name, 0)
	return b
}

// Execute runs fn with a timeout unless the breaker is open
func (b *CircuitBreaker) Execute(ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if !b.allow() {
		logger.Warn("Circuit breaker is OPEN - remote call skipped",
			zap.String("breaker", b.name),
			zap.String("operation", operation),
		)
		return fmt.Errorf("%s %s: %w", b.name, operation, ErrCircuitOpen)
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(callCtx)
	b.record(operation, err)
	return err
}

// State returns the current circuit breaker state
func (b *CircuitBreaker) State() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitBreakerOpen:
		if b.clock.Since(b.openedAt) < b.cooldown {
			return false
		}
		b.setState(CircuitBreakerHalfOpen)
		b.trialInFlight = true
		return true
	case CircuitBreakerHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) record(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.trialInFlight = false

	if err == nil {
		if b.state != CircuitBreakerClosed {
			logger.Info("Circuit breaker CLOSED - remote recovered",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
			)
		}
		b.consecutiveFailures = 0
		b.setState(CircuitBreakerClosed)
		return
	}

	b.consecutiveFailures++
	if b.state == CircuitBreakerHalfOpen || b.consecutiveFailures >= b.threshold {
		if b.state != CircuitBreakerOpen {
			logger.Error("Circuit breaker OPEN - too many consecutive failures",
				zap.String("breaker", b.name),
				zap.String("operation", operation),
				zap.Int("consecutive_failures", b.consecutiveFailures),
				zap.Error(err),
			)
		}
		b.openedAt = b.clock.Now()
		b.setState(CircuitBreakerOpen)
	}
}

// setState must be called with mu held
func (b *CircuitBreaker) setState(state CircuitBreakerState) {
	b.state = state
	switch state {
	case CircuitBreakerClosed:
		metrics.SetCircuitBreakerState(b.name, 0)
	case CircuitBreakerHalfOpen:
		metrics.SetCircuitBreakerState(b.name, 1)
	case CircuitBreakerOpen:
		metrics.SetCircuitBreakerState(b.name, 2)
	}
}

// ClassifyError classifies errors for metrics labels
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "circuit_breaker"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "network unreachable"):
		return "network"
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "dns"):
		return "dns"
	case strings.Contains(errMsg, "degraded mode"):
		return "degraded"
	case strings.Contains(errMsg, "not found"):
		return "not_found"
	default:
		return "unknown"
	}
}
