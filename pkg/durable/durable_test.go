package durable

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/resilience"
)

func TestApply_LocalSurvivesRemoteFailure(t *testing.T) {
	m := NewMutator(resilience.NewCircuitBreaker("durable-test", 3, time.Second), time.Second)
	applied := false

	err := m.Apply(context.Background(), Mutation{
		Name:   "update_call",
		Local:  func() { applied = true },
		Remote: func(ctx context.Context) error { return stderrors.New("connection refused") },
	})

	assert.True(t, applied)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTransport))
}

func TestApply_RemoteSuccess(t *testing.T) {
	m := NewMutator(nil, time.Second)
	order := []string{}

	err := m.Apply(context.Background(), Mutation{
		Name:  "create_call",
		Local: func() { order = append(order, "local") },
		Remote: func(ctx context.Context) error {
			order = append(order, "remote")
			return nil
		},
	})

	assert.NoError(t, err)
	assert.Equal(t, []string{"local", "remote"}, order)
}

func TestApply_LocalOnly(t *testing.T) {
	m := NewMutator(nil, 0)

	err := m.Apply(context.Background(), Mutation{Name: "noop"})

	assert.NoError(t, err)
}
