package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffline-calling/internal/database"
	"riffline-calling/internal/domain"
)

func newRepo(t *testing.T, limit int) *HistoryRepository {
	t.Helper()
	db, err := database.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewHistoryRepository(db, limit)
	require.NoError(t, err)
	return repo
}

func endedCall(id string, at time.Time) *domain.Call {
	c := &domain.Call{
		ID:         id,
		FromUserID: "a",
		ToUserID:   "b",
		CallType:   domain.CallTypeAudio,
		Status:     domain.CallStatusCalling,
		CreatedAt:  at,
	}
	c.MarkConnected(at)
	c.MarkEnded(domain.CallStatusEnded, at.Add(42*time.Second))
	return c
}

func TestHistory_AppendAndListNewestFirst(t *testing.T) {
	repo := newRepo(t, 50)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		c := endedCall(fmt.Sprintf("call-%d", i), base.Add(time.Duration(i)*time.Minute))
		_, err := repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, base))
		require.NoError(t, err)
	}

	items, err := repo.List(ctx, "a")

	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "call-2", items[0].ID)
	assert.Equal(t, "call-0", items[2].ID)
	assert.Equal(t, 42, *items[0].Duration)
	assert.Equal(t, "b", items[0].PeerDisplayName)
}

func TestHistory_CapEvictsOldest(t *testing.T) {
	repo := newRepo(t, 50)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 51; i++ {
		c := endedCall(fmt.Sprintf("call-%02d", i), base)
		_, err := repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, base))
		require.NoError(t, err)
	}

	items, err := repo.List(ctx, "a")

	require.NoError(t, err)
	require.Len(t, items, 50)
	assert.Equal(t, "call-50", items[0].ID)
	assert.Equal(t, "call-01", items[49].ID)
}

func TestHistory_AppendIsIdempotentPerCall(t *testing.T) {
	repo := newRepo(t, 50)
	ctx := context.Background()
	c := endedCall("call-x", time.Now())

	first, err := repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, time.Now()))
	require.NoError(t, err)
	second, err := repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, time.Now()))
	require.NoError(t, err)

	items, err := repo.List(ctx, "a")
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
	assert.Len(t, items, 1)
}

func TestHistory_OwnersAreSeparate(t *testing.T) {
	repo := newRepo(t, 50)
	ctx := context.Background()
	c := endedCall("call-y", time.Now())

	_, err := repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, time.Now()))
	require.NoError(t, err)
	_, err = repo.Append(ctx, domain.NewCallHistoryItem("b", c, nil, time.Now()))
	require.NoError(t, err)

	itemsA, _ := repo.List(ctx, "a")
	itemsB, _ := repo.List(ctx, "b")
	empty, _ := repo.List(ctx, "c")

	assert.Len(t, itemsA, 1)
	assert.Len(t, itemsB, 1)
	assert.Equal(t, domain.DirectionIncoming, itemsB[0].Direction)
	assert.Empty(t, empty)
}

func TestHistory_ClosedDatabaseErrors(t *testing.T) {
	db, err := database.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	repo, err := NewHistoryRepository(db, 50)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	ctx := context.Background()

	c := endedCall("call-1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	_, err = repo.Append(ctx, domain.NewCallHistoryItem("a", c, nil, c.CreatedAt))
	assert.ErrorContains(t, err, "failed to begin history tx")

	_, err = repo.List(ctx, "a")
	assert.ErrorContains(t, err, "failed to query history")

	_, err = NewHistoryRepository(db, 50)
	assert.ErrorContains(t, err, "failed to create call_history table")
}
