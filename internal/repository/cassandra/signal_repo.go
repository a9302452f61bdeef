package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"riffline-calling/internal/domain"
)

const signalsSchema = `
	CREATE TABLE IF NOT EXISTS call_signals (
		to_user_id   text,
		call_id      text,
		sent_at      timestamp,
		signal_id    timeuuid,
		signal_type  text,
		from_user_id text,
		data         blob,
		PRIMARY KEY ((to_user_id), call_id, sent_at, signal_id)
	) WITH CLUSTERING ORDER BY (call_id ASC, sent_at ASC, signal_id ASC)
`

// SignalRepository stores signals in the call_signals table. Rows expire
// after the configured TTL.
type SignalRepository struct {
	session *gocql.Session
	ttl     time.Duration
}

// NewSignalRepository creates a new SignalRepository
func NewSignalRepository(session *gocql.Session, ttl time.Duration) *SignalRepository {
	return &SignalRepository{session: session, ttl: ttl}
}

// EnsureSchema creates the call_signals table if it does not exist
func (r *SignalRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(signalsSchema).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create call_signals table: %w", err)
	}
	return nil
}

// Save inserts a signal row with TTL
func (r *SignalRepository) Save(ctx context.Context, sig *domain.Signal) error {
	query := `
		INSERT INTO call_signals (
			to_user_id, call_id, sent_at, signal_id, signal_type, from_user_id, data
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		USING TTL ?
	`

	err := r.session.Query(query,
		sig.ToUserID,
		sig.CallID,
		sig.SentAt,
		gocql.UUIDFromTime(sig.SentAt),
		string(sig.Type),
		sig.FromUserID,
		[]byte(sig.Data),
		int(r.ttl.Seconds()),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save signal: %w", err)
	}

	return nil
}

// GetForCall retrieves the unexpired signals addressed to userID for one call
func (r *SignalRepository) GetForCall(ctx context.Context, userID, callID string) ([]*domain.Signal, error) {
	query := `
		SELECT call_id, sent_at, signal_type, from_user_id, data
		FROM call_signals
		WHERE to_user_id = ? AND call_id = ?
	`

	iter := r.session.Query(query, userID, callID).WithContext(ctx).Iter()

	var signals []*domain.Signal
	var (
		cid, sigType, from string
		sentAt             time.Time
		data               []byte
	)
	for iter.Scan(&cid, &sentAt, &sigType, &from, &data) {
		signals = append(signals, &domain.Signal{
			Type:       domain.SignalType(sigType),
			CallID:     cid,
			FromUserID: from,
			ToUserID:   userID,
			Data:       append([]byte(nil), data...),
			SentAt:     sentAt,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get signals: %w", err)
	}

	return signals, nil
}
