package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"riffline-calling/internal/device"
	"riffline-calling/internal/domain"
	"riffline-calling/internal/signaling"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

func (m *Manager) dispatch(events <-chan signaling.Event, done chan<- struct{}) {
	defer close(done)
	for ev := range events {
		switch ev.Kind {
		case signaling.EventCallInserted, signaling.EventCallUpdated:
			m.handleCall(ev.Call)
		case signaling.EventSignal:
			m.handleSignal(ev.Signal)
		}
	}
}

// handleCall reduces a call row change. Call status events always win over
// signals; a terminal status is absorbing.
func (m *Manager) handleCall(row *domain.Call) {
	if row == nil || !row.Involves(m.self) {
		return
	}
	m.directory.Remember(row)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	current, dir := currentOf(m.state)
	switch {
	case current != nil && current.ID == row.ID:
		m.reduceCurrentLocked(current, dir, row)
	case m.isFinishedLocked(row.ID):
		metrics.RecordSignalDropped("finished_call")
	case row.ToUserID == m.self && row.FromUserID != m.self && row.Status == domain.CallStatusCalling:
		if current == nil {
			m.enterIncomingLocked(row.Clone(), m.opts.RingTimeout)
		} else {
			m.declineBusyLocked(row.Clone())
		}
	default:
		metrics.RecordSignalDropped("stale_call")
	}
	m.unlockAndNotify()
}

func (m *Manager) reduceCurrentLocked(current *domain.Call, dir domain.Direction, row *domain.Call) {
	_, calling := m.state.(Calling)

	// answered on another device of this user
	if calling && dir == domain.DirectionIncoming && row.Status == domain.CallStatusConnected {
		logger.Info("Call answered on another device", logger.CallID(row.ID), logger.UserID(m.self))
		m.markFinishedLocked(row.ID)
		m.toIdleLocked()
		return
	}

	if !current.Merge(row) {
		return
	}

	if current.Status.IsTerminal() {
		m.closeByPeerLocked(current)
		return
	}

	if calling && dir == domain.DirectionOutgoing && current.Status == domain.CallStatusConnected {
		m.stopTimersLocked()
		m.enterConnectedLocked(current, domain.DirectionOutgoing)
		logger.Info("Call connected", logger.CallID(current.ID), logger.UserID(m.self))
		return
	}

	m.queueStateLocked()
}

// enterIncomingLocked starts ringing for call; ringFor is the remaining
// ring time.
func (m *Manager) enterIncomingLocked(call *domain.Call, ringFor time.Duration) {
	m.state = Calling{Call: call, Direction: domain.DirectionIncoming}
	m.resetMediaLocked()
	m.startRingTimerLocked(call.ID, ringFor)
	m.effects.StartRinging()
	m.effects.Impulse(device.IntensityHeavy)
	metrics.RecordCallStarted(string(call.CallType), string(domain.DirectionIncoming))
	m.queueStateLocked()

	logger.Info("Incoming call",
		logger.CallID(call.ID),
		logger.UserID(m.self),
		zap.String("from_user_id", call.FromUserID),
	)

	if call.Status != domain.CallStatusCalling {
		return
	}
	callID := call.ID
	m.goLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
		defer cancel()
		updated, err := m.directory.UpdateCall(ctx, callID, domain.StatusUpdate(domain.CallStatusRinging))
		if err != nil {
			logger.Warn("Failed to mark call ringing", logger.CallID(callID), zap.Error(err))
		}
		m.mergeRemote(updated)
	})
}

// declineBusyLocked rejects a second incoming call without touching the
// current one
func (m *Manager) declineBusyLocked(call *domain.Call) {
	call.MarkEnded(domain.CallStatusDeclined, m.clock.Now().UTC())
	m.markFinishedLocked(call.ID)
	metrics.RecordCallEnded(string(call.CallType), string(call.Status), nil)

	logger.Info("Declining call while busy",
		logger.CallID(call.ID),
		logger.UserID(m.self),
		zap.String("from_user_id", call.FromUserID),
	)

	m.goLocked(func() {
		ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
		defer cancel()
		m.writeTerminal(ctx, call)
	})
}

// handleSignal reduces a peer signal. Only end-call moves the state
// machine; it acts like a terminal ended row for the current call.
func (m *Manager) handleSignal(sig *domain.Signal) {
	if sig == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	current, _ := currentOf(m.state)
	if current == nil || current.ID != sig.CallID || sig.FromUserID != current.Peer(m.self) {
		metrics.RecordSignalDropped("stale_signal")
		m.mu.Unlock()
		return
	}

	switch sig.Type {
	case domain.SignalEndCall:
		current.MarkEnded(domain.CallStatusEnded, m.clock.Now().UTC())
		logger.Info("Peer hung up", logger.CallID(current.ID), logger.UserID(m.self))
		final := m.terminateLocked(current)
		m.goLocked(func() { m.appendHistory(context.Background(), final) })
	case domain.SignalMute, domain.SignalUnmute:
		m.peer.Muted = sig.Type == domain.SignalMute
		m.queueStateLocked()
	case domain.SignalVideoOff, domain.SignalVideoOn:
		m.peer.VideoOff = sig.Type == domain.SignalVideoOff
		m.queueStateLocked()
	}

	m.queueLocked(Event{Kind: EventSignalReceived, Signal: sig, CallID: sig.CallID})
	m.unlockAndNotify()
}
