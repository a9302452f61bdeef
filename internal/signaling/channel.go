// Package signaling delivers call row changes and peer signals to the
// devices of the users involved, over a pluggable transport.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/transport"
	"riffline-calling/pkg/constants"
	apperrors "riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// EventKind identifies what an Event carries
type EventKind string

const (
	EventCallInserted EventKind = "call_inserted"
	EventCallUpdated  EventKind = "call_updated"
	EventSignal       EventKind = "signal"
)

// Event is the envelope published on the transport
type Event struct {
	Kind        EventKind      `json:"kind"`
	Call        *domain.Call   `json:"call,omitempty"`
	Signal      *domain.Signal `json:"signal,omitempty"`
	PublishedAt time.Time      `json:"publishedAt"`
}

// SignalStore persists signals for late readers. Optional.
type SignalStore interface {
	Save(ctx context.Context, sig *domain.Signal) error
	GetForCall(ctx context.Context, userID, callID string) ([]*domain.Signal, error)
}

// CallTopic is the per-user topic for call row changes
func CallTopic(userID string) string { return constants.CallTopicPrefix + userID }

// SignalTopic is the per-user topic for signals
func SignalTopic(userID string) string { return constants.SignalTopicPrefix + userID }

// Channel is one device's view of the realtime feed
type Channel struct {
	transport transport.Transport
	store     SignalStore
	clock     clock.Clock

	mu     sync.Mutex
	userID string
	sub    transport.Subscription
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewChannel creates a channel. store may be nil.
func NewChannel(tr transport.Transport, store SignalStore, clk clock.Clock) *Channel {
	if clk == nil {
		clk = clock.New()
	}
	return &Channel{transport: tr, store: store, clock: clk}
}

// Subscribe starts receiving events addressed to userID. Calling it again
// for the same user returns the existing stream.
func (c *Channel) Subscribe(ctx context.Context, userID string) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		if c.userID == userID {
			return c.events, nil
		}
		return nil, apperrors.InvalidStateError(fmt.Sprintf("channel already subscribed for %s", c.userID))
	}

	sub, err := c.transport.Subscribe(ctx, CallTopic(userID), SignalTopic(userID))
	if err != nil {
		return nil, apperrors.TransportError("subscribe", err)
	}

	c.userID = userID
	c.sub = sub
	c.events = make(chan Event, 32)
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.pump(userID, sub, c.events, c.done)

	logger.Info("Signal channel subscribed", logger.UserID(userID))
	return c.events, nil
}

// Unsubscribe tears the stream down. The events channel is closed.
func (c *Channel) Unsubscribe() {
	c.mu.Lock()
	sub, done := c.sub, c.done
	c.sub, c.done, c.events = nil, nil, nil
	c.mu.Unlock()

	if sub == nil {
		return
	}
	close(done)
	if err := sub.Close(); err != nil {
		logger.Warn("Failed to close subscription", zap.Error(err))
	}
	c.wg.Wait()
}

func (c *Channel) pump(userID string, sub transport.Subscription, events chan<- Event, done <-chan struct{}) {
	defer c.wg.Done()
	defer close(events)

	for {
		select {
		case <-done:
			return
		case payload, ok := <-sub.Messages():
			if !ok {
				return
			}
			ev, ok := decode(userID, payload)
			if !ok {
				continue
			}
			metrics.RecordSignalReceived(string(ev.Kind))
			select {
			case events <- ev:
			case <-done:
				return
			}
		}
	}
}

// decode parses an envelope and keeps it only if addressed to userID
func decode(userID string, payload []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		metrics.RecordSignalDropped("malformed")
		logger.Warn("Dropping malformed event", zap.Error(err))
		return Event{}, false
	}

	switch ev.Kind {
	case EventCallInserted, EventCallUpdated:
		if ev.Call == nil || ev.Call.ID == "" || !ev.Call.Status.Valid() {
			metrics.RecordSignalDropped("malformed")
			logger.Warn("Dropping call event without a valid call", zap.String("kind", string(ev.Kind)))
			return Event{}, false
		}
		if !ev.Call.Involves(userID) {
			metrics.RecordSignalDropped("not_addressed")
			return Event{}, false
		}
	case EventSignal:
		if ev.Signal == nil || !ev.Signal.Type.Valid() {
			metrics.RecordSignalDropped("malformed")
			logger.Warn("Dropping signal event without a valid signal")
			return Event{}, false
		}
		if ev.Signal.ToUserID != userID {
			metrics.RecordSignalDropped("not_addressed")
			return Event{}, false
		}
	default:
		metrics.RecordSignalDropped("unknown_kind")
		logger.Warn("Dropping event of unknown kind", zap.String("kind", string(ev.Kind)))
		return Event{}, false
	}
	return ev, true
}

// PublishCall announces a call row change. Inserts go to the callee;
// updates go to both participants.
func (c *Channel) PublishCall(ctx context.Context, kind EventKind, call *domain.Call) error {
	payload, err := json.Marshal(Event{Kind: kind, Call: call, PublishedAt: c.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode call event: %w", err)
	}

	topics := []string{CallTopic(call.ToUserID)}
	if kind == EventCallUpdated {
		topics = append(topics, CallTopic(call.FromUserID))
	}

	var errs []error
	for _, topic := range topics {
		if err := c.transport.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	err = errors.Join(errs...)
	metrics.RecordSignalPublished(string(kind), err)
	return err
}

// SendSignal stores the signal (when a store is configured) and publishes
// it to the recipient. A store failure is logged and does not stop delivery.
func (c *Channel) SendSignal(ctx context.Context, sig *domain.Signal) error {
	if sig.SentAt.IsZero() {
		sig.SentAt = c.clock.Now().UTC()
	}

	if c.store != nil {
		if err := c.store.Save(ctx, sig); err != nil {
			logger.Warn("Failed to store signal",
				logger.CallID(sig.CallID),
				zap.String("signal_type", string(sig.Type)),
				zap.Error(err),
			)
		}
	}

	payload, err := json.Marshal(Event{Kind: EventSignal, Signal: sig, PublishedAt: c.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}

	err = c.transport.Publish(ctx, SignalTopic(sig.ToUserID), payload)
	metrics.RecordSignalPublished(string(sig.Type), err)
	return err
}

// PendingSignals returns unexpired stored signals for a call. Empty when no
// store is configured.
func (c *Channel) PendingSignals(ctx context.Context, userID, callID string) ([]*domain.Signal, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.GetForCall(ctx, userID, callID)
}
