package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"riffline-calling/internal/domain"
)

const historySchema = `
	CREATE TABLE IF NOT EXISTS call_history (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_id    TEXT NOT NULL,
		call_id     TEXT NOT NULL,
		item        TEXT NOT NULL,
		recorded_at DATETIME,
		UNIQUE (owner_id, call_id)
	);
	CREATE INDEX IF NOT EXISTS call_history_owner_seq ON call_history (owner_id, seq DESC);
`

// HistoryRepository keeps each owner's most recent call history items in
// the device-local SQLite database
type HistoryRepository struct {
	db    *sql.DB
	limit int
	mu    sync.Mutex
}

// NewHistoryRepository creates the call_history table if needed
func NewHistoryRepository(db *sql.DB, limit int) (*HistoryRepository, error) {
	if _, err := db.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("failed to create call_history table: %w", err)
	}
	return &HistoryRepository{db: db, limit: limit}, nil
}

// Append stores item and evicts the owner's entries beyond the limit.
// Appending the same (owner, call id) twice keeps the first entry.
func (r *HistoryRepository) Append(ctx context.Context, item *domain.CallHistoryItem) (bool, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return false, fmt.Errorf("failed to marshal history item: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin history tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO call_history (owner_id, call_id, item, recorded_at) VALUES (?, ?, ?, ?)`,
		item.OwnerID, item.ID, string(payload), item.RecordedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert history item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM call_history
		WHERE owner_id = ? AND seq NOT IN (
			SELECT seq FROM call_history WHERE owner_id = ? ORDER BY seq DESC LIMIT ?
		)`,
		item.OwnerID, item.OwnerID, r.limit,
	); err != nil {
		return false, fmt.Errorf("failed to evict history items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit history tx: %w", err)
	}
	return true, nil
}

// List returns the owner's history, newest first
func (r *HistoryRepository) List(ctx context.Context, ownerID string) ([]*domain.CallHistoryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT item FROM call_history WHERE owner_id = ? ORDER BY seq DESC LIMIT ?`,
		ownerID, r.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	items := []*domain.CallHistoryItem{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		var item domain.CallHistoryItem
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("failed to decode history item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
