package call

import (
	"sync"

	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/pkg/logger"
)

// EventKind identifies a manager notification
type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventSignalReceived EventKind = "signal_received"
	EventCallFailed     EventKind = "call_failed"
)

// Event is delivered to observers
type Event struct {
	Kind     EventKind      `json:"kind"`
	Snapshot *Snapshot      `json:"snapshot,omitempty"`
	Signal   *domain.Signal `json:"signal,omitempty"`
	CallID   string         `json:"callId,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

type observer struct {
	id int
	fn func(Event)
}

// observers is a typed observer list keyed by event kind
type observers struct {
	mu     sync.RWMutex
	nextID int
	byKind map[EventKind][]observer
}

func (o *observers) add(kind EventKind, fn func(Event)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.byKind == nil {
		o.byKind = make(map[EventKind][]observer)
	}
	o.nextID++
	id := o.nextID
	o.byKind[kind] = append(o.byKind[kind], observer{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(kind, id) })
	}
}

func (o *observers) remove(kind EventKind, id int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	list := o.byKind[kind]
	for i, obs := range list {
		if obs.id == id {
			o.byKind[kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (o *observers) notify(events []Event) {
	for _, ev := range events {
		o.mu.RLock()
		list := append([]observer(nil), o.byKind[ev.Kind]...)
		o.mu.RUnlock()

		for _, obs := range list {
			deliver(obs.fn, ev)
		}
	}
}

// deliver isolates the manager from a panicking observer
func deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Call observer panicked",
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ev)
}
