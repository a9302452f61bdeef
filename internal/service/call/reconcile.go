package call

import (
	"context"

	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/pkg/logger"
)

// Reconcile recovers calls this device lost track of, after a restart or
// missed deliveries. A young incoming call rings again for its remaining
// time; every other open call involving this user is closed remotely.
func (m *Manager) Reconcile(ctx context.Context) error {
	calls, err := m.directory.GetActiveCalls(ctx, m.self)
	if err != nil {
		return err
	}

	var stale []*domain.Call
	for _, row := range calls {
		if m.tracked(row.ID) {
			continue
		}
		if m.hungUp(ctx, row) {
			closed := row.Clone()
			closed.MarkEnded(domain.CallStatusEnded, m.clock.Now().UTC())
			m.mu.Lock()
			m.markFinishedLocked(closed.ID)
			m.mu.Unlock()
			stale = append(stale, closed)
			continue
		}
		if closed := m.restore(row); closed != nil {
			stale = append(stale, closed)
		}
	}

	for _, final := range stale {
		logger.Info("Closing stale call",
			logger.CallID(final.ID),
			logger.UserID(m.self),
			zap.String("status", string(final.Status)),
		)
		m.writeTerminal(ctx, final)
	}
	return nil
}

// tracked reports whether callID is current or already closed here
func (m *Manager) tracked(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, _ := currentOf(m.state)
	return (current != nil && current.ID == callID) || m.isFinishedLocked(callID)
}

// hungUp reports whether the peer already sent end-call for row
func (m *Manager) hungUp(ctx context.Context, row *domain.Call) bool {
	sigs, err := m.feed.PendingSignals(ctx, m.self, row.ID)
	if err != nil {
		logger.Warn("Pending signals unavailable", logger.CallID(row.ID), zap.Error(err))
		return false
	}
	for _, sig := range sigs {
		if sig.Type == domain.SignalEndCall {
			return true
		}
	}
	return false
}

// restore re-enters ringing for a young incoming call. It returns a closed
// copy of row when row should be closed instead, or nil when nothing is to
// be written.
func (m *Manager) restore(row *domain.Call) *domain.Call {
	m.mu.Lock()
	defer m.unlockAndNotify()

	current, _ := currentOf(m.state)
	if current != nil && current.ID == row.ID {
		return nil
	}
	if m.isFinishedLocked(row.ID) || row.Status.IsTerminal() {
		return nil
	}

	now := m.clock.Now().UTC()
	incoming := row.ToUserID == m.self && row.Status != domain.CallStatusConnected
	remaining := m.opts.RingTimeout - now.Sub(row.CreatedAt)
	if incoming && current == nil && remaining > 0 && !m.closed {
		m.directory.Remember(row)
		m.enterIncomingLocked(row.Clone(), remaining)
		return nil
	}

	closed := row.Clone()
	if closed.Status == domain.CallStatusConnected {
		closed.MarkEnded(domain.CallStatusEnded, now)
	} else {
		closed.MarkEnded(domain.CallStatusMissed, now)
	}
	m.markFinishedLocked(closed.ID)
	return closed
}
