// Package call owns the device's call state machine: placing, answering,
// declining and ending calls, and reducing the realtime feed into a single
// authoritative state.
package call

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"riffline-calling/internal/device"
	"riffline-calling/internal/domain"
	"riffline-calling/internal/signaling"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// Directory is the durable call store
type Directory interface {
	Remember(call *domain.Call)
	CreateCall(ctx context.Context, call *domain.Call) (*domain.Call, error)
	UpdateCall(ctx context.Context, callID string, upd domain.CallUpdate) (*domain.Call, error)
	GetActiveCalls(ctx context.Context, userID string) ([]*domain.Call, error)
	AppendHistory(ctx context.Context, ownerID string, call *domain.Call) (*domain.CallHistoryItem, error)
}

// Feed is the realtime signal channel
type Feed interface {
	Subscribe(ctx context.Context, userID string) (<-chan signaling.Event, error)
	Unsubscribe()
	SendSignal(ctx context.Context, sig *domain.Signal) error
	PendingSignals(ctx context.Context, userID, callID string) ([]*domain.Signal, error)
}

// Deps holds the manager's collaborators. Capture and Effects may be nil.
type Deps struct {
	Directory Directory
	Feed      Feed
	Capture   device.Capture
	Effects   *device.Effects
	Clock     clock.Clock
}

// Options tunes the call timers
type Options struct {
	// RingTimeout auto-declines an unanswered incoming call
	RingTimeout time.Duration
	// OutgoingTimeout marks an unanswered outgoing call missed
	OutgoingTimeout time.Duration
	// MaxDuration hangs up a connected call; 0 disables it
	MaxDuration time.Duration
}

// maxFinishedCalls bounds the set of call ids already closed on this device
const maxFinishedCalls = 128

// Manager is one device's call session manager
type Manager struct {
	self      string
	directory Directory
	feed      Feed
	capture   device.Capture
	effects   *device.Effects
	clock     clock.Clock
	opts      Options

	observers observers

	mu          sync.Mutex
	state       State
	media       MediaState
	peer        PeerMedia
	captureOpen bool
	ringTimer   *clock.Timer
	hangupTimer *clock.Timer
	finished    map[string]struct{}
	pending     []Event
	notifying   bool

	started  bool
	closed   bool
	loopDone chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a manager for the device user selfID
func NewManager(selfID string, deps Deps, opts Options) *Manager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Effects == nil {
		deps.Effects = device.NewEffects(nil, nil)
	}
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = constants.IncomingRingTimeout
	}
	if opts.OutgoingTimeout <= 0 {
		opts.OutgoingTimeout = constants.OutgoingRingTimeout
	}

	return &Manager{
		self:      selfID,
		directory: deps.Directory,
		feed:      deps.Feed,
		capture:   deps.Capture,
		effects:   deps.Effects,
		clock:     deps.Clock,
		opts:      opts,
		state:     Idle{},
		finished:  make(map[string]struct{}),
	}
}

// UserID returns the device user
func (m *Manager) UserID() string {
	return m.self
}

// Snapshot returns a copy of the current state
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn for events of kind. The returned func removes it.
func (m *Manager) Subscribe(kind EventKind, fn func(Event)) func() {
	return m.observers.add(kind, fn)
}

// Start subscribes to the feed and begins reducing inbound events.
// Calling it again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.InvalidStateError("Call manager is closed")
	}
	if m.started {
		return nil
	}

	events, err := m.feed.Subscribe(ctx, m.self)
	if err != nil {
		return err
	}

	m.started = true
	m.loopDone = make(chan struct{})
	go m.dispatch(events, m.loopDone)

	logger.Info("Call manager started", logger.UserID(m.self))
	return nil
}

// Close stops timers, unsubscribes from the feed and waits for pending
// background writes.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopTimersLocked()
	if st, ok := m.state.(Calling); ok && st.Direction == domain.DirectionIncoming {
		m.effects.StopRinging()
	}
	m.closeCaptureLocked()
	started := m.started
	loopDone := m.loopDone
	m.mu.Unlock()

	if started {
		m.feed.Unsubscribe()
		<-loopDone
	}
	m.wg.Wait()
}

// InitiateCall places an outgoing call. The call is returned even when the
// remote store could not be reached.
func (m *Manager) InitiateCall(ctx context.Context, toUserID string, callType domain.CallType) (*domain.Call, error) {
	if toUserID == "" {
		return nil, errors.InvalidInputError("toUserId is required")
	}
	if toUserID == m.self {
		return nil, errors.InvalidInputError("Cannot call yourself")
	}
	if !callType.Valid() {
		return nil, errors.InvalidInputError("callType must be audio or video")
	}

	m.mu.Lock()
	if _, idle := m.state.(Idle); !idle {
		m.mu.Unlock()
		return nil, errors.InvalidStateError("A call is already in progress")
	}
	if err := m.openCaptureLocked(ctx, callType); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	call := domain.NewCall(m.self, toUserID, callType, m.clock.Now().UTC())
	m.state = Calling{Call: call, Direction: domain.DirectionOutgoing}
	m.resetMediaLocked()
	m.startRingTimerLocked(call.ID, m.opts.OutgoingTimeout)
	metrics.RecordCallStarted(string(callType), string(domain.DirectionOutgoing))
	m.queueStateLocked()
	local := call.Clone()
	m.unlockAndNotify()

	logger.Info("Placing call",
		logger.CallID(local.ID),
		logger.UserID(m.self),
		zap.String("to_user_id", toUserID),
		zap.String("call_type", string(callType)),
	)

	rctx, cancel := detach(ctx)
	defer cancel()
	created, err := m.directory.CreateCall(rctx, local)
	if err != nil {
		logger.Warn("Call created locally only", logger.CallID(local.ID), zap.Error(err))
		return local, nil
	}
	m.mergeRemote(created)
	return local, nil
}

// AnswerCall accepts the pending incoming call callID
func (m *Manager) AnswerCall(ctx context.Context, callID string) (*domain.Call, error) {
	m.mu.Lock()
	st, ok := m.pendingIncomingLocked(callID)
	if !ok {
		m.mu.Unlock()
		return nil, errors.CallNotFoundError(callID)
	}
	if err := m.openCaptureLocked(ctx, st.Call.CallType); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	call := st.Call
	call.MarkConnected(m.clock.Now().UTC())
	m.stopTimersLocked()
	m.effects.StopRinging()
	m.enterConnectedLocked(call, domain.DirectionIncoming)
	m.effects.Impulse(device.IntensityMedium)

	status := domain.CallStatusConnected
	upd := domain.CallUpdate{Status: &status, ConnectedAt: call.ConnectedAt}
	local := call.Clone()
	m.unlockAndNotify()

	logger.Info("Call answered", logger.CallID(callID), logger.UserID(m.self))

	rctx, cancel := detach(ctx)
	defer cancel()
	updated, err := m.directory.UpdateCall(rctx, callID, upd)
	if err != nil {
		logger.Warn("Answer recorded locally only", logger.CallID(callID), zap.Error(err))
	}
	m.mergeRemote(updated)
	return local, nil
}

// DeclineCall rejects the pending incoming call callID
func (m *Manager) DeclineCall(ctx context.Context, callID string) error {
	m.mu.Lock()
	st, ok := m.pendingIncomingLocked(callID)
	if !ok {
		m.mu.Unlock()
		return errors.CallNotFoundError(callID)
	}

	st.Call.MarkEnded(domain.CallStatusDeclined, m.clock.Now().UTC())
	final := m.terminateLocked(st.Call)
	m.unlockAndNotify()

	logger.Info("Call declined", logger.CallID(callID), logger.UserID(m.self))

	rctx, cancel := detach(ctx)
	defer cancel()
	m.writeTerminal(rctx, final)
	return nil
}

// pendingIncomingLocked returns the ringing incoming call when its id is callID
func (m *Manager) pendingIncomingLocked(callID string) (Calling, bool) {
	st, ok := m.state.(Calling)
	if !ok || st.Direction != domain.DirectionIncoming || st.Call.ID != callID {
		return Calling{}, false
	}
	return st, true
}

// EndCall hangs up callID with reason (ended when empty). Ending a call
// that is not current is a no-op.
func (m *Manager) EndCall(ctx context.Context, callID string, reason domain.CallStatus) error {
	if reason == "" {
		reason = domain.CallStatusEnded
	}
	if !reason.IsTerminal() {
		return errors.InvalidInputError("reason must be ended, missed or declined")
	}

	m.mu.Lock()
	call, _ := currentOf(m.state)
	if call == nil || call.ID != callID {
		m.mu.Unlock()
		return nil
	}

	call.MarkEnded(reason, m.clock.Now().UTC())
	final := m.terminateLocked(call)
	m.unlockAndNotify()

	logger.Info("Call ended",
		logger.CallID(callID),
		logger.UserID(m.self),
		zap.String("status", string(final.Status)),
	)

	rctx, cancel := detach(ctx)
	defer cancel()
	m.writeTerminal(rctx, final)

	sig := &domain.Signal{
		Type:       domain.SignalEndCall,
		CallID:     callID,
		FromUserID: m.self,
		ToUserID:   final.Peer(m.self),
	}
	if err := m.feed.SendSignal(rctx, sig); err != nil {
		logger.Warn("Failed to send end-call signal", logger.CallID(callID), zap.Error(err))
	}
	return nil
}

// SendSignal sends a signal to the peer of the current call
func (m *Manager) SendSignal(ctx context.Context, sigType domain.SignalType, data json.RawMessage) error {
	if !sigType.Valid() {
		return errors.InvalidInputError("Unknown signal type")
	}

	m.mu.Lock()
	call, _ := currentOf(m.state)
	if call == nil {
		m.mu.Unlock()
		return errors.InvalidStateError("No call in progress")
	}
	sig := &domain.Signal{
		Type:       sigType,
		CallID:     call.ID,
		FromUserID: m.self,
		ToUserID:   call.Peer(m.self),
		Data:       data,
	}
	m.mu.Unlock()

	if err := m.feed.SendSignal(ctx, sig); err != nil {
		return errors.TransportError("send_signal", err)
	}
	return nil
}

// ToggleMute flips the microphone mute and returns the new value
func (m *Manager) ToggleMute() bool {
	m.mu.Lock()
	m.media.Muted = !m.media.Muted
	muted := m.media.Muted
	if m.capture != nil {
		m.capture.SetMuted(muted)
	}
	m.notifyPeerLocked(domain.MuteSignal(muted))
	m.queueStateLocked()
	m.unlockAndNotify()

	m.effects.Impulse(device.IntensityLight)
	return muted
}

// ToggleVideo flips the camera and returns the new video-off value
func (m *Manager) ToggleVideo() bool {
	m.mu.Lock()
	m.media.VideoOff = !m.media.VideoOff
	videoOff := m.media.VideoOff
	if m.capture != nil {
		m.capture.SetVideoEnabled(!videoOff)
	}
	m.notifyPeerLocked(domain.VideoSignal(videoOff))
	m.queueStateLocked()
	m.unlockAndNotify()

	m.effects.Impulse(device.IntensityLight)
	return videoOff
}

// ToggleSpeaker flips the speaker route and returns the new value
func (m *Manager) ToggleSpeaker() bool {
	m.mu.Lock()
	m.media.SpeakerOn = !m.media.SpeakerOn
	on := m.media.SpeakerOn
	m.queueStateLocked()
	m.unlockAndNotify()
	return on
}

// notifyPeerLocked sends sigType in the background when connected
func (m *Manager) notifyPeerLocked(sigType domain.SignalType) {
	st, ok := m.state.(Connected)
	if !ok {
		return
	}
	sig := &domain.Signal{
		Type:       sigType,
		CallID:     st.Call.ID,
		FromUserID: m.self,
		ToUserID:   st.Call.Peer(m.self),
	}
	m.goLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
		defer cancel()
		if err := m.feed.SendSignal(ctx, sig); err != nil {
			logger.Warn("Failed to send media signal",
				logger.CallID(sig.CallID),
				zap.String("signal_type", string(sig.Type)),
				zap.Error(err),
			)
		}
	})
}

// enterConnectedLocked moves to Connected and starts the hang-up timer
func (m *Manager) enterConnectedLocked(call *domain.Call, dir domain.Direction) {
	m.state = Connected{Call: call, Direction: dir}
	m.resetMediaLocked()
	m.startHangupTimerLocked(call.ID)
	metrics.SetCallActive(true)
	m.queueStateLocked()
}

// terminateLocked returns to Idle after call reached a terminal status and
// returns a copy for the remote write.
func (m *Manager) terminateLocked(call *domain.Call) *domain.Call {
	final := call.Clone()
	m.markFinishedLocked(call.ID)
	metrics.RecordCallEnded(string(call.CallType), string(call.Status), call.Duration)
	m.toIdleLocked()
	return final
}

// toIdleLocked releases everything the current call holds
func (m *Manager) toIdleLocked() {
	m.stopTimersLocked()
	if st, ok := m.state.(Calling); ok && st.Direction == domain.DirectionIncoming {
		m.effects.StopRinging()
	}
	m.closeCaptureLocked()
	m.state = Idle{}
	m.media = MediaState{}
	m.peer = PeerMedia{}
	metrics.SetCallActive(false)
	m.queueStateLocked()
}

// writeTerminal stores the terminal row and appends it to local history
func (m *Manager) writeTerminal(ctx context.Context, final *domain.Call) {
	upd := final.EndedUpdate()
	upd.ConnectedAt = final.ConnectedAt
	if _, err := m.directory.UpdateCall(ctx, final.ID, upd); err != nil {
		logger.Warn("Call end recorded locally only", logger.CallID(final.ID), zap.Error(err))
	}
	m.appendHistory(ctx, final)
}

func (m *Manager) appendHistory(ctx context.Context, final *domain.Call) {
	if _, err := m.directory.AppendHistory(ctx, m.self, final); err != nil {
		logger.Warn("Failed to record call history", logger.CallID(final.ID), zap.Error(err))
	}
}

// mergeRemote folds a row returned by the store into the current call.
// Rows for calls that are no longer current are discarded. A terminal row
// closes the call, since the matching feed event will no longer merge.
func (m *Manager) mergeRemote(row *domain.Call) {
	if row == nil {
		return
	}
	m.mu.Lock()
	call, _ := currentOf(m.state)
	if call != nil && call.ID == row.ID && call.Merge(row) {
		if call.Status.IsTerminal() {
			m.closeByPeerLocked(call)
		} else {
			m.queueStateLocked()
		}
	}
	m.unlockAndNotify()
}

// closeByPeerLocked returns to Idle after a remote row closed call and
// records it in local history
func (m *Manager) closeByPeerLocked(call *domain.Call) {
	call.Seal(m.clock.Now().UTC())
	logger.Info("Call closed by peer",
		logger.CallID(call.ID),
		zap.String("status", string(call.Status)),
	)
	final := m.terminateLocked(call)
	m.goLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
		defer cancel()
		m.appendHistory(ctx, final)
	})
}

// detach keeps the remote half of a command running after ctx is done.
// Remote writes are bounded by RemoteWriteTimeout instead.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), constants.RemoteWriteTimeout)
}

func (m *Manager) openCaptureLocked(ctx context.Context, callType domain.CallType) error {
	if m.capture == nil || m.captureOpen {
		return nil
	}
	if err := m.capture.Start(ctx); err != nil {
		if stderrors.Is(err, device.ErrPermissionDenied) {
			name := "microphone"
			if callType == domain.CallTypeVideo {
				name = "camera"
			}
			return errors.PermissionError(name, err)
		}
		logger.Warn("Capture unavailable, continuing without it", zap.Error(err))
		return nil
	}
	m.captureOpen = true
	return nil
}

func (m *Manager) closeCaptureLocked() {
	if m.capture == nil || !m.captureOpen {
		return
	}
	if err := m.capture.Stop(); err != nil {
		logger.Warn("Failed to stop capture", zap.Error(err))
	}
	m.captureOpen = false
}

func (m *Manager) resetMediaLocked() {
	m.media = MediaState{}
	m.peer = PeerMedia{}
	if m.capture != nil {
		m.capture.SetMuted(false)
		m.capture.SetVideoEnabled(true)
	}
}

func (m *Manager) markFinishedLocked(callID string) {
	if len(m.finished) >= maxFinishedCalls {
		m.finished = make(map[string]struct{})
	}
	m.finished[callID] = struct{}{}
}

func (m *Manager) isFinishedLocked(callID string) bool {
	_, ok := m.finished[callID]
	return ok
}

// goLocked runs fn in the background unless the manager is closed
func (m *Manager) goLocked(fn func()) {
	if m.closed {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

func (m *Manager) snapshotLocked() Snapshot {
	return Snapshot{State: cloneState(m.state), Media: m.media, Peer: m.peer}
}

func (m *Manager) queueStateLocked() {
	snap := m.snapshotLocked()
	m.pending = append(m.pending, Event{Kind: EventStateChanged, Snapshot: &snap})
}

func (m *Manager) queueLocked(ev Event) {
	m.pending = append(m.pending, ev)
}

// unlockAndNotify releases the lock and delivers queued events in the
// order they were queued. Only one goroutine delivers at a time; a caller
// that finds delivery in progress leaves its events to that goroutine.
// Observers may call back into the manager.
func (m *Manager) unlockAndNotify() {
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		events := m.pending
		m.pending = nil
		m.mu.Unlock()
		m.observers.notify(events)
		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}
