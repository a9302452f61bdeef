package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffline-calling/internal/database"
)

type countingCloser struct {
	closes atomic.Int32
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return nil
}

func requireClosed(t *testing.T, sub Subscription) {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		require.False(t, ok, "unexpected message %q", msg)
	case <-time.After(time.Second):
		t.Fatal("stream never closed")
	}
}

func TestRedisSubscription_ForwardsPayloads(t *testing.T) {
	msgs := make(chan *redis.Message, 2)
	sub := newRedisSubscription(&countingCloser{}, msgs)
	defer sub.Close()

	msgs <- &redis.Message{Channel: "calls:user:a", Payload: "first"}
	msgs <- &redis.Message{Channel: "signals:user:a", Payload: "second"}

	assert.Equal(t, []byte("first"), receive(t, sub))
	assert.Equal(t, []byte("second"), receive(t, sub))
}

func TestRedisSubscription_CloseIsIdempotent(t *testing.T) {
	closer := &countingCloser{}
	sub := newRedisSubscription(closer, make(chan *redis.Message))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	assert.Equal(t, int32(1), closer.closes.Load())
	requireClosed(t, sub)
}

func TestRedisSubscription_EndsWithSource(t *testing.T) {
	msgs := make(chan *redis.Message)
	sub := newRedisSubscription(&countingCloser{}, msgs)
	defer sub.Close()

	close(msgs)
	requireClosed(t, sub)
}

func TestRedisTransport_DegradedModeSkipsRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	rc := database.NewRedisFromClient(client)
	tr := NewRedisTransport(rc)
	defer tr.Close()
	ctx := context.Background()

	require.Error(t, rc.HealthCheck(ctx))
	require.True(t, rc.IsDegraded())

	err := tr.Publish(ctx, "calls:user:a", []byte("x"))
	assert.ErrorContains(t, err, "degraded mode")

	_, err = tr.Subscribe(ctx, "calls:user:a")
	assert.ErrorContains(t, err, "degraded mode")
}
