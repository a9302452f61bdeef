package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"riffline-calling/internal/domain"
)

// ErrCallNotFound is returned when no row matches the call id
var ErrCallNotFound = errors.New("call not found")

const callColumns = `id, from_user_id, to_user_id, call_type, status, created_at, connected_at, ended_at, duration`

const callsSchema = `
	CREATE TABLE IF NOT EXISTS calls (
		id           STRING PRIMARY KEY,
		from_user_id STRING NOT NULL,
		to_user_id   STRING NOT NULL,
		call_type    STRING NOT NULL,
		status       STRING NOT NULL,
		status_rank  INT NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL,
		connected_at TIMESTAMPTZ,
		ended_at     TIMESTAMPTZ,
		duration     INT,
		INDEX calls_from_idx (from_user_id, created_at DESC),
		INDEX calls_to_idx (to_user_id, created_at DESC)
	)
`

// CallRepository handles call rows in CockroachDB
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// EnsureSchema creates the calls table if it does not exist
func (r *CallRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, callsSchema); err != nil {
		return fmt.Errorf("failed to create calls table: %w", err)
	}
	return nil
}

// Create inserts a new call row
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	query := `
		INSERT INTO calls (
			id, from_user_id, to_user_id, call_type, status, status_rank, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		call.ID,
		call.FromUserID,
		call.ToUserID,
		string(call.CallType),
		string(call.Status),
		call.Status.Rank(),
		call.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	return nil
}

// Update applies a partial update and returns the stored row. Status never
// moves to a lower rank, terminal rows are left untouched, and timestamps
// already set are kept.
func (r *CallRepository) Update(ctx context.Context, callID string, upd domain.CallUpdate) (*domain.Call, error) {
	var status *string
	var rank *int
	if upd.Status != nil {
		s := string(*upd.Status)
		rk := upd.Status.Rank()
		status, rank = &s, &rk
	}

	query := `
		UPDATE calls
		SET status       = COALESCE($2, status),
		    status_rank  = COALESCE($3, status_rank),
		    connected_at = COALESCE(connected_at, $4),
		    ended_at     = COALESCE(ended_at, $5),
		    duration     = COALESCE(duration, $6)
		WHERE id = $1
		  AND status_rank < 3
		  AND ($3::INT IS NULL OR $3::INT >= status_rank)
		RETURNING ` + callColumns

	call, err := scanCall(r.pool.QueryRow(ctx, query,
		callID, status, rank, upd.ConnectedAt, upd.EndedAt, upd.Duration,
	))
	if err == nil {
		return call, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update call: %w", err)
	}

	// Nothing matched: the row is missing, terminal, or already further along.
	return r.GetByID(ctx, callID)
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID string) (*domain.Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`

	call, err := scanCall(r.pool.QueryRow(ctx, query, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	return call, nil
}

// GetUserCalls retrieves the most recent calls where the user is caller or callee
func (r *CallRepository) GetUserCalls(ctx context.Context, userID string, limit int) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE from_user_id = $1 OR to_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	return r.queryCalls(ctx, query, userID, limit)
}

// GetActiveForUser retrieves the user's non-terminal calls, oldest first
func (r *CallRepository) GetActiveForUser(ctx context.Context, userID string) ([]*domain.Call, error) {
	query := `
		SELECT ` + callColumns + `
		FROM calls
		WHERE (from_user_id = $1 OR to_user_id = $1) AND status_rank < 3
		ORDER BY created_at ASC
	`

	return r.queryCalls(ctx, query, userID)
}

func (r *CallRepository) queryCalls(ctx context.Context, query string, args ...any) ([]*domain.Call, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []*domain.Call
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate calls: %w", err)
	}

	return calls, nil
}

func scanCall(row pgx.Row) (*domain.Call, error) {
	var (
		call        domain.Call
		callType    string
		status      string
		connectedAt *time.Time
		endedAt     *time.Time
		duration    *int
	)
	err := row.Scan(
		&call.ID,
		&call.FromUserID,
		&call.ToUserID,
		&callType,
		&status,
		&call.CreatedAt,
		&connectedAt,
		&endedAt,
		&duration,
	)
	if err != nil {
		return nil, err
	}

	call.CallType = domain.CallType(callType)
	call.Status = domain.CallStatus(status)
	call.ConnectedAt = connectedAt
	call.EndedAt = endedAt
	call.Duration = duration
	return &call, nil
}
