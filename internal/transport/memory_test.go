package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscription) []byte {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestMemoryTransport_TopicFiltering(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	subA, err := tr.Subscribe(ctx, "calls:user:a")
	require.NoError(t, err)
	subB, err := tr.Subscribe(ctx, "calls:user:b")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "calls:user:a", []byte("for-a")))

	assert.Equal(t, []byte("for-a"), receive(t, subA))
	select {
	case msg := <-subB.Messages():
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestMemoryTransport_MultipleTopics(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "calls:user:a", "signals:user:a")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "signals:user:a", []byte("1")))
	require.NoError(t, tr.Publish(ctx, "calls:user:a", []byte("2")))

	assert.Equal(t, []byte("1"), receive(t, sub))
	assert.Equal(t, []byte("2"), receive(t, sub))
}

func TestMemoryTransport_CloseSubscription(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()

	sub, err := tr.Subscribe(ctx, "calls:user:a")
	require.NoError(t, err)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.NoError(t, tr.Publish(ctx, "calls:user:a", []byte("late")))
}

func TestMemoryTransport_Closed(t *testing.T) {
	tr := NewMemoryTransport()
	ctx := context.Background()
	sub, err := tr.Subscribe(ctx, "x")
	require.NoError(t, err)

	require.NoError(t, tr.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)
	assert.ErrorIs(t, tr.Publish(ctx, "x", nil), ErrClosed)
	_, err = tr.Subscribe(ctx, "x")
	assert.ErrorIs(t, err, ErrClosed)
}
