package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// NATSTransport carries topics over core NATS subjects
type NATSTransport struct {
	nc *nats.Conn
}

// ConnectNATS dials the NATS server and returns a transport on it
func ConnectNATS(url, name string) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSTransport{nc: nc}, nil
}

// Publish publishes payload on the topic subject
func (t *NATSTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := t.nc.Publish(topic, payload); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe subscribes to every topic subject, merging them into one stream
func (t *NATSTransport) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	sub := &natsSubscription{ch: make(chan []byte, subscriptionBuffer)}

	for _, topic := range topics {
		s, err := t.nc.Subscribe(topic, sub.handle)
		if err != nil {
			sub.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		sub.subs = append(sub.subs, s)
	}
	if err := t.nc.FlushWithContext(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to flush subscriptions: %w", err)
	}
	return sub, nil
}

// Close drains and closes the connection
func (t *NATSTransport) Close() error {
	return t.nc.Drain()
}

type natsSubscription struct {
	mu     sync.Mutex
	subs   []*nats.Subscription
	ch     chan []byte
	closed bool
}

func (s *natsSubscription) Messages() <-chan []byte { return s.ch }

func (s *natsSubscription) handle(msg *nats.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg.Data:
	default:
		metrics.RecordSignalDropped("subscriber_full")
		logger.Warn("Subscriber buffer full, message dropped", zap.String("subject", msg.Subject))
	}
}

func (s *natsSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			logger.Warn("Failed to unsubscribe", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	close(s.ch)
	return nil
}
