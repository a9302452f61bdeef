// Package transport moves opaque payloads between devices over named topics.
// Delivery is at-most-once: there are no acknowledgements and no replay.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing through a closed transport
var ErrClosed = errors.New("transport closed")

// Transport publishes payloads to topics and subscribes to them
type Transport interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics ...string) (Subscription, error)
	Close() error
}

// Subscription is a live stream of payloads. Messages is closed after Close.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// subscriptionBuffer bounds messages queued for a slow subscriber
const subscriptionBuffer = 64
