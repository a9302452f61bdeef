package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewCallID_IsUUIDv7(t *testing.T) {
	id, err := uuid.Parse(NewCallID())

	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), id.Version())
	assert.NotEqual(t, NewCallID(), NewCallID())
}

func TestCallStatus_IsTerminal(t *testing.T) {
	assert.False(t, CallStatusCalling.IsTerminal())
	assert.False(t, CallStatusRinging.IsTerminal())
	assert.False(t, CallStatusConnected.IsTerminal())
	assert.True(t, CallStatusEnded.IsTerminal())
	assert.True(t, CallStatusMissed.IsTerminal())
	assert.True(t, CallStatusDeclined.IsTerminal())
}

func TestMarkEnded_DurationFloor(t *testing.T) {
	tests := []struct {
		name     string
		elapsed  time.Duration
		wantSecs int
	}{
		{"under one second", 999 * time.Millisecond, 0},
		{"exact", 5 * time.Second, 5},
		{"truncates", 5*time.Second + 999*time.Millisecond, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCall("a", "b", CallTypeAudio, t0)
			c.MarkConnected(t0)
			c.MarkEnded(CallStatusEnded, t0.Add(tt.elapsed))

			require.NotNil(t, c.Duration)
			assert.Equal(t, tt.wantSecs, *c.Duration)
		})
	}
}

func TestMarkEnded_NoDurationWithoutConnect(t *testing.T) {
	c := NewCall("a", "b", CallTypeVideo, t0)

	c.MarkEnded(CallStatusDeclined, t0.Add(3*time.Second))

	assert.Equal(t, CallStatusDeclined, c.Status)
	assert.NotNil(t, c.EndedAt)
	assert.Nil(t, c.Duration)
}

func TestMarkEnded_TerminalIsImmutable(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)
	c.MarkConnected(t0)
	c.MarkEnded(CallStatusEnded, t0.Add(10*time.Second))

	c.MarkEnded(CallStatusMissed, t0.Add(20*time.Second))
	c.MarkConnected(t0.Add(30 * time.Second))

	assert.Equal(t, CallStatusEnded, c.Status)
	assert.Equal(t, t0.Add(10*time.Second), *c.EndedAt)
	assert.Equal(t, t0, *c.ConnectedAt)
	assert.Equal(t, 10, *c.Duration)
}

func TestMarkConnected_StampsOnce(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)

	c.MarkConnected(t0.Add(time.Second))
	c.MarkConnected(t0.Add(2 * time.Second))

	assert.Equal(t, t0.Add(time.Second), *c.ConnectedAt)
}

func TestApply_NeverRegresses(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)
	c.MarkConnected(t0)

	c.Apply(StatusUpdate(CallStatusRinging))

	assert.Equal(t, CallStatusConnected, c.Status)
}

func TestMerge(t *testing.T) {
	local := NewCall("a", "b", CallTypeAudio, t0)
	remote := local.Clone()
	remote.MarkConnected(t0.Add(time.Second))

	assert.True(t, local.Merge(remote))
	assert.Equal(t, CallStatusConnected, local.Status)
	assert.False(t, local.Merge(remote), "duplicate is a no-op")

	stale := local.Clone()
	stale.Status = CallStatusRinging
	assert.False(t, local.Merge(stale))

	other := NewCall("a", "b", CallTypeAudio, t0)
	other.Status = CallStatusEnded
	assert.False(t, local.Merge(other), "different id")
}

func TestPeerAndDirection(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)

	assert.Equal(t, "b", c.Peer("a"))
	assert.Equal(t, "a", c.Peer("b"))
	assert.Equal(t, DirectionOutgoing, c.DirectionFor("a"))
	assert.Equal(t, DirectionIncoming, c.DirectionFor("b"))
}

func TestClone_IsDeep(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)
	c.MarkConnected(t0)

	cp := c.Clone()
	*cp.ConnectedAt = t0.Add(time.Hour)

	assert.Equal(t, t0, *c.ConnectedAt)
}

func TestCall_JSONWireNames(t *testing.T) {
	c := NewCall("a", "b", CallTypeVideo, t0)

	raw, err := json.Marshal(c)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "a", m["fromUserId"])
	assert.Equal(t, "video", m["callType"])
	assert.Equal(t, "2026-03-01T12:00:00Z", m["createdAt"])
	assert.NotContains(t, m, "connectedAt")
}

func TestNewCallHistoryItem(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)
	c.MarkEnded(CallStatusMissed, t0)

	withProfile := NewCallHistoryItem("a", c, &Profile{UserID: "b", DisplayName: "Bea", AvatarURL: "https://x/b.png"}, t0)
	assert.Equal(t, "Bea", withProfile.PeerDisplayName)
	assert.Equal(t, DirectionOutgoing, withProfile.Direction)

	fallback := NewCallHistoryItem("b", c, nil, t0)
	assert.Equal(t, "a", fallback.PeerDisplayName)
	assert.Equal(t, DirectionIncoming, fallback.Direction)
}

func TestSeal_FillsMissingFields(t *testing.T) {
	c := NewCall("a", "b", CallTypeAudio, t0)
	c.MarkConnected(t0.Add(time.Second))
	c.Apply(StatusUpdate(CallStatusEnded))

	c.Seal(t0.Add(8 * time.Second))

	require.NotNil(t, c.EndedAt)
	require.NotNil(t, c.Duration)
	assert.Equal(t, 7, *c.Duration)

	c.Seal(t0.Add(time.Minute))
	assert.Equal(t, t0.Add(8*time.Second), *c.EndedAt)
}
