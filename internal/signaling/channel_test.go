package signaling

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/transport"
)

// MockSignalStore is a mock implementation of SignalStore
type MockSignalStore struct {
	mock.Mock
}

func (m *MockSignalStore) Save(ctx context.Context, sig *domain.Signal) error {
	args := m.Called(ctx, sig)
	return args.Error(0)
}

func (m *MockSignalStore) GetForCall(ctx context.Context, userID, callID string) ([]*domain.Signal, error) {
	args := m.Called(ctx, userID, callID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Signal), args.Error(1)
}

func next(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertQuiet(t *testing.T, events <-chan Event) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestChannel_SubscribeIsIdempotent(t *testing.T) {
	ch := NewChannel(transport.NewMemoryTransport(), nil, clock.NewMock())
	defer ch.Unsubscribe()

	first, err := ch.Subscribe(context.Background(), "a")
	require.NoError(t, err)
	second, err := ch.Subscribe(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	_, err = ch.Subscribe(context.Background(), "b")
	assert.Error(t, err)
}

func TestChannel_InsertReachesCalleeOnly(t *testing.T) {
	tr := transport.NewMemoryTransport()
	caller := NewChannel(tr, nil, clock.NewMock())
	callee := NewChannel(tr, nil, clock.NewMock())
	defer caller.Unsubscribe()
	defer callee.Unsubscribe()

	callerEvents, err := caller.Subscribe(context.Background(), "a")
	require.NoError(t, err)
	calleeEvents, err := callee.Subscribe(context.Background(), "b")
	require.NoError(t, err)

	call := domain.NewCall("a", "b", domain.CallTypeAudio, time.Now())
	require.NoError(t, caller.PublishCall(context.Background(), EventCallInserted, call))

	ev := next(t, calleeEvents)
	assert.Equal(t, EventCallInserted, ev.Kind)
	assert.Equal(t, call.ID, ev.Call.ID)
	assertQuiet(t, callerEvents)
}

func TestChannel_UpdateReachesBoth(t *testing.T) {
	tr := transport.NewMemoryTransport()
	a := NewChannel(tr, nil, clock.NewMock())
	b := NewChannel(tr, nil, clock.NewMock())
	defer a.Unsubscribe()
	defer b.Unsubscribe()

	aEvents, _ := a.Subscribe(context.Background(), "a")
	bEvents, _ := b.Subscribe(context.Background(), "b")

	call := domain.NewCall("a", "b", domain.CallTypeAudio, time.Now())
	call.MarkConnected(time.Now())
	require.NoError(t, b.PublishCall(context.Background(), EventCallUpdated, call))

	assert.Equal(t, domain.CallStatusConnected, next(t, aEvents).Call.Status)
	assert.Equal(t, domain.CallStatusConnected, next(t, bEvents).Call.Status)
}

func TestChannel_SendSignalStoresAndDelivers(t *testing.T) {
	tr := transport.NewMemoryTransport()
	store := new(MockSignalStore)
	sender := NewChannel(tr, store, clock.NewMock())
	receiver := NewChannel(tr, nil, clock.NewMock())
	defer receiver.Unsubscribe()

	events, err := receiver.Subscribe(context.Background(), "b")
	require.NoError(t, err)

	store.On("Save", mock.Anything, mock.AnythingOfType("*domain.Signal")).Return(nil)

	sig := &domain.Signal{
		Type:       domain.SignalOffer,
		CallID:     "call-1",
		FromUserID: "a",
		ToUserID:   "b",
		Data:       json.RawMessage(`{"sdp":"v=0"}`),
	}
	require.NoError(t, sender.SendSignal(context.Background(), sig))

	ev := next(t, events)
	assert.Equal(t, EventSignal, ev.Kind)
	assert.Equal(t, domain.SignalOffer, ev.Signal.Type)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(ev.Signal.Data))
	assert.False(t, ev.Signal.SentAt.IsZero())
	store.AssertExpectations(t)
}

func TestChannel_StoreFailureStillDelivers(t *testing.T) {
	tr := transport.NewMemoryTransport()
	store := new(MockSignalStore)
	sender := NewChannel(tr, store, clock.NewMock())
	receiver := NewChannel(tr, nil, clock.NewMock())
	defer receiver.Unsubscribe()
	events, _ := receiver.Subscribe(context.Background(), "b")

	store.On("Save", mock.Anything, mock.Anything).Return(stderrors.New("cassandra down"))

	err := sender.SendSignal(context.Background(), &domain.Signal{Type: domain.SignalMute, CallID: "c", FromUserID: "a", ToUserID: "b"})

	assert.NoError(t, err)
	assert.Equal(t, domain.SignalMute, next(t, events).Signal.Type)
}

func TestChannel_DropsMalformedAndMisaddressed(t *testing.T) {
	tr := transport.NewMemoryTransport()
	ch := NewChannel(tr, nil, clock.NewMock())
	defer ch.Unsubscribe()
	events, _ := ch.Subscribe(context.Background(), "a")
	ctx := context.Background()

	require.NoError(t, tr.Publish(ctx, CallTopic("a"), []byte("{not json")))
	require.NoError(t, tr.Publish(ctx, CallTopic("a"), []byte(`{"kind":"call_updated"}`)))
	require.NoError(t, tr.Publish(ctx, CallTopic("a"), []byte(`{"kind":"mystery"}`)))
	misaddressed, _ := json.Marshal(Event{Kind: EventSignal, Signal: &domain.Signal{Type: domain.SignalOffer, ToUserID: "z"}})
	require.NoError(t, tr.Publish(ctx, SignalTopic("a"), misaddressed))

	good := domain.NewCall("b", "a", domain.CallTypeVideo, time.Now())
	require.NoError(t, ch.PublishCall(ctx, EventCallInserted, good))

	ev := next(t, events)
	assert.Equal(t, good.ID, ev.Call.ID)
}

func TestChannel_UnsubscribeClosesStream(t *testing.T) {
	ch := NewChannel(transport.NewMemoryTransport(), nil, clock.NewMock())
	events, err := ch.Subscribe(context.Background(), "a")
	require.NoError(t, err)

	ch.Unsubscribe()
	ch.Unsubscribe()

	_, open := <-events
	assert.False(t, open)
}

func TestChannel_PendingSignalsWithoutStore(t *testing.T) {
	ch := NewChannel(transport.NewMemoryTransport(), nil, nil)

	sigs, err := ch.PendingSignals(context.Background(), "a", "c")

	assert.NoError(t, err)
	assert.Empty(t, sigs)
}
