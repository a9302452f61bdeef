package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

var errUnreachable = errors.New("dial tcp: connection refused")

func failing(ctx context.Context) error { return errUnreachable }

func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	mockClock := clock.NewMock()
	breaker := NewCircuitBreaker("test-open", 3, 10*time.Second, WithClock(mockClock))

	for i := 0; i < 3; i++ {
		err := breaker.Execute(context.Background(), "update", 0, failing)
		assert.ErrorIs(t, err, errUnreachable)
	}
	assert.Equal(t, CircuitBreakerOpen, breaker.State())

	called := false
	err := breaker.Execute(context.Background(), "update", 0, func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	mockClock := clock.NewMock()
	breaker := NewCircuitBreaker("test-recover", 1, 10*time.Second, WithClock(mockClock))

	_ = breaker.Execute(context.Background(), "create", 0, failing)
	assert.Equal(t, CircuitBreakerOpen, breaker.State())

	mockClock.Add(11 * time.Second)

	err := breaker.Execute(context.Background(), "create", 0, succeeding)
	assert.NoError(t, err)
	assert.Equal(t, CircuitBreakerClosed, breaker.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	mockClock := clock.NewMock()
	breaker := NewCircuitBreaker("test-reopen", 1, 10*time.Second, WithClock(mockClock))

	_ = breaker.Execute(context.Background(), "create", 0, failing)
	mockClock.Add(11 * time.Second)
	_ = breaker.Execute(context.Background(), "create", 0, failing)

	assert.Equal(t, CircuitBreakerOpen, breaker.State())
}

func TestCircuitBreaker_AppliesTimeout(t *testing.T) {
	breaker := NewCircuitBreaker("test-timeout", 3, time.Second)

	err := breaker.Execute(context.Background(), "create", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", ClassifyError(nil))
	assert.Equal(t, "network", ClassifyError(errUnreachable))
	assert.Equal(t, "circuit_breaker", ClassifyError(fmt.Errorf("x: %w", ErrCircuitOpen)))
	assert.Equal(t, "timeout", ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, "degraded", ClassifyError(errors.New("redis is in degraded mode, publish skipped")))
}
