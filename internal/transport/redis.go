package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"riffline-calling/internal/database"
	"riffline-calling/pkg/logger"
)

// RedisTransport carries topics over Redis Pub/Sub
type RedisTransport struct {
	redis *database.RedisClient
}

// NewRedisTransport creates a transport on a degraded-mode aware client
func NewRedisTransport(redisClient *database.RedisClient) *RedisTransport {
	return &RedisTransport{redis: redisClient}
}

// Publish publishes payload on the topic channel
func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.redis.SafePublish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to the topic channels and waits for Redis to confirm
func (t *RedisTransport) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	pubsub := t.redis.SafeSubscribe(ctx, topics...)
	if pubsub == nil {
		return nil, errors.New("redis is in degraded mode, subscribe skipped")
	}

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return newRedisSubscription(pubsub, pubsub.Channel()), nil
}

// Close closes the underlying Redis client. The transport owns it.
func (t *RedisTransport) Close() error {
	t.redis.Close()
	return nil
}

type redisSubscription struct {
	pubsub io.Closer
	msgs   <-chan *redis.Message
	ch     chan []byte
	done   chan struct{}
	once   sync.Once
}

// newRedisSubscription forwards msgs until Close; closing pubsub ends msgs
func newRedisSubscription(pubsub io.Closer, msgs <-chan *redis.Message) *redisSubscription {
	sub := &redisSubscription{
		pubsub: pubsub,
		msgs:   msgs,
		ch:     make(chan []byte, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	go sub.run()
	return sub
}

func (s *redisSubscription) Messages() <-chan []byte { return s.ch }

func (s *redisSubscription) run() {
	defer close(s.ch)

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.msgs:
			if !ok {
				return
			}
			select {
			case s.ch <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		if err != nil {
			logger.Warn("Failed to close Redis subscription", zap.Error(err))
		}
	})
	return err
}
