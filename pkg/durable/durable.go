// Package durable applies fail-soft mutations: the local copy is always
// updated, the remote write is attempted once behind a circuit breaker, and a
// remote failure is reported without undoing the local change.
package durable

import (
	"context"
	"time"

	"go.uber.org/zap"

	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
	"riffline-calling/pkg/resilience"
)

// Mutation is a single named change with a local and a remote half.
// Either half may be nil.
type Mutation struct {
	Name   string
	Local  func()
	Remote func(ctx context.Context) error
}

// Mutator runs mutations against one remote dependency
type Mutator struct {
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewMutator creates a mutator. A nil breaker runs remote writes unguarded.
func NewMutator(breaker *resilience.CircuitBreaker, timeout time.Duration) *Mutator {
	return &Mutator{breaker: breaker, timeout: timeout}
}

// Apply runs Local first, then Remote. The returned error is a
// TRANSPORT_ERROR AppError when the remote half failed, nil otherwise.
func (m *Mutator) Apply(ctx context.Context, mut Mutation) error {
	if mut.Local != nil {
		mut.Local()
	}
	if mut.Remote == nil {
		return nil
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Execute(ctx, mut.Name, m.timeout, mut.Remote)
	} else {
		callCtx := ctx
		if m.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		err = mut.Remote(callCtx)
	}
	if err == nil {
		return nil
	}

	errorType := resilience.ClassifyError(err)
	metrics.RecordRemoteWriteFailure(mut.Name, errorType)
	logger.Warn("Remote write failed, keeping local state",
		zap.String("operation", mut.Name),
		zap.String("error_type", errorType),
		zap.Error(err),
	)
	return errors.TransportError(mut.Name, err)
}
