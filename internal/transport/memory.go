package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// MemoryTransport is an in-process broker. Devices sharing one
// MemoryTransport see each other's publishes.
type MemoryTransport struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryTransport creates an empty in-process broker
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers payload to every current subscriber of topic. A
// subscriber whose buffer is full misses the message.
func (t *MemoryTransport) Publish(ctx context.Context, topic string, payload []byte) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return ErrClosed
	}

	for sub := range t.subs[topic] {
		msg := append([]byte(nil), payload...)
		if !sub.deliver(msg) {
			metrics.RecordSignalDropped("subscriber_full")
			logger.Warn("Subscriber buffer full, message dropped", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers a new subscription on topics
func (t *MemoryTransport) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		transport: t,
		topics:    topics,
		ch:        make(chan []byte, subscriptionBuffer),
	}
	for _, topic := range topics {
		if t.subs[topic] == nil {
			t.subs[topic] = make(map[*memorySubscription]struct{})
		}
		t.subs[topic][sub] = struct{}{}
	}
	return sub, nil
}

// Close closes every subscription
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	subs := make(map[*memorySubscription]struct{})
	for _, set := range t.subs {
		for sub := range set {
			subs[sub] = struct{}{}
		}
	}
	t.subs = make(map[string]map[*memorySubscription]struct{})
	t.closed = true
	t.mu.Unlock()

	for sub := range subs {
		sub.closeChannel()
	}
	return nil
}

func (t *MemoryTransport) remove(sub *memorySubscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, topic := range sub.topics {
		delete(t.subs[topic], sub)
		if len(t.subs[topic]) == 0 {
			delete(t.subs, topic)
		}
	}
}

type memorySubscription struct {
	transport *MemoryTransport
	topics    []string

	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func (s *memorySubscription) Messages() <-chan []byte { return s.ch }

func (s *memorySubscription) deliver(msg []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (s *memorySubscription) Close() error {
	s.transport.remove(s)
	s.closeChannel()
	return nil
}

func (s *memorySubscription) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
