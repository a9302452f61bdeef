package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

func (m *Manager) startRingTimerLocked(callID string, d time.Duration) {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
	}
	m.ringTimer = m.clock.AfterFunc(d, func() { m.onRingTimeout(callID) })
}

func (m *Manager) startHangupTimerLocked(callID string) {
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
		m.hangupTimer = nil
	}
	if m.opts.MaxDuration <= 0 {
		return
	}
	m.hangupTimer = m.clock.AfterFunc(m.opts.MaxDuration, func() { m.onMaxDuration(callID) })
}

func (m *Manager) stopTimersLocked() {
	if m.ringTimer != nil {
		m.ringTimer.Stop()
		m.ringTimer = nil
	}
	if m.hangupTimer != nil {
		m.hangupTimer.Stop()
		m.hangupTimer = nil
	}
}

// onRingTimeout closes an unanswered call: declined for an incoming call,
// missed for an outgoing one
func (m *Manager) onRingTimeout(callID string) {
	m.mu.Lock()
	st, ok := m.state.(Calling)
	if m.closed || !ok || st.Call.ID != callID {
		m.mu.Unlock()
		return
	}

	status := domain.CallStatusDeclined
	timer := "incoming_ring"
	if st.Direction == domain.DirectionOutgoing {
		status = domain.CallStatusMissed
		timer = "outgoing_ring"
		m.queueLocked(Event{Kind: EventCallFailed, CallID: callID, Reason: "no answer"})
	}
	metrics.RecordCallTimeout(timer)

	st.Call.MarkEnded(status, m.clock.Now().UTC())
	final := m.terminateLocked(st.Call)
	m.wg.Add(1)
	m.unlockAndNotify()
	defer m.wg.Done()

	logger.Info("Call timed out",
		logger.CallID(callID),
		logger.UserID(m.self),
		zap.String("status", string(status)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
	defer cancel()
	m.writeTerminal(ctx, final)
}

// onMaxDuration hangs up a call connected for longer than MaxDuration
func (m *Manager) onMaxDuration(callID string) {
	m.mu.Lock()
	st, ok := m.state.(Connected)
	if m.closed || !ok || st.Call.ID != callID {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	metrics.RecordCallTimeout("max_duration")
	logger.Info("Call reached maximum duration", logger.CallID(callID))

	ctx, cancel := context.WithTimeout(context.Background(), constants.RemoteWriteTimeout)
	defer cancel()
	if err := m.EndCall(ctx, callID, domain.CallStatusEnded); err != nil {
		logger.Warn("Automatic hang-up failed", logger.CallID(callID), zap.Error(err))
	}
}
