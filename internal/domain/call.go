package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType is the media kind of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle status of a call row
type CallStatus string

const (
	CallStatusCalling   CallStatus = "calling"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
)

// Valid reports whether s is a known status
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusCalling, CallStatusRinging, CallStatusConnected,
		CallStatusEnded, CallStatusMissed, CallStatusDeclined:
		return true
	}
	return false
}

// IsTerminal reports whether s is ended, missed or declined
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed || s == CallStatusDeclined
}

// Rank orders statuses for monotonic merges. All terminal statuses share
// the highest rank.
func (s CallStatus) Rank() int {
	switch s {
	case CallStatusCalling:
		return 0
	case CallStatusRinging:
		return 1
	case CallStatusConnected:
		return 2
	default:
		return 3
	}
}

// Direction is the call direction as seen from one participant
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Call represents a one-to-one audio or video call.
// Maps to the CockroachDB calls table.
type Call struct {
	ID          string     `json:"id" db:"id"`
	FromUserID  string     `json:"fromUserId" db:"from_user_id"`
	ToUserID    string     `json:"toUserId" db:"to_user_id"`
	CallType    CallType   `json:"callType" db:"call_type"`
	Status      CallStatus `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
	ConnectedAt *time.Time `json:"connectedAt,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"endedAt,omitempty" db:"ended_at"`
	Duration    *int       `json:"duration,omitempty" db:"duration"` // whole seconds
}

// CallUpdate is a partial update of a call row. Nil fields are left as is.
type CallUpdate struct {
	Status      *CallStatus `json:"status,omitempty"`
	ConnectedAt *time.Time  `json:"connectedAt,omitempty"`
	EndedAt     *time.Time  `json:"endedAt,omitempty"`
	Duration    *int        `json:"duration,omitempty"`
}

// NewCallID returns a time-ordered UUIDv7 string
func NewCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewCall builds a call in status calling
func NewCall(from, to string, callType CallType, now time.Time) *Call {
	return &Call{
		ID:         NewCallID(),
		FromUserID: from,
		ToUserID:   to,
		CallType:   callType,
		Status:     CallStatusCalling,
		CreatedAt:  now,
	}
}

// Clone returns a deep copy
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	if c.ConnectedAt != nil {
		t := *c.ConnectedAt
		cp.ConnectedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	if c.Duration != nil {
		d := *c.Duration
		cp.Duration = &d
	}
	return &cp
}

// Peer returns the participant that is not self
func (c *Call) Peer(self string) string {
	if c.FromUserID == self {
		return c.ToUserID
	}
	return c.FromUserID
}

// DirectionFor returns the call direction from self's point of view
func (c *Call) DirectionFor(self string) Direction {
	if c.FromUserID == self {
		return DirectionOutgoing
	}
	return DirectionIncoming
}

// Involves reports whether userID is a participant
func (c *Call) Involves(userID string) bool {
	return c.FromUserID == userID || c.ToUserID == userID
}

// MarkRinging moves a calling call to ringing
func (c *Call) MarkRinging() {
	if c.Status == CallStatusCalling {
		c.Status = CallStatusRinging
	}
}

// MarkConnected sets status connected and stamps ConnectedAt once.
// No-op on a terminal call.
func (c *Call) MarkConnected(at time.Time) {
	if c.Status.IsTerminal() {
		return
	}
	c.Status = CallStatusConnected
	if c.ConnectedAt == nil {
		t := at
		c.ConnectedAt = &t
	}
}

// MarkEnded sets a terminal status and stamps EndedAt once. Duration is
// floor((EndedAt - ConnectedAt) / 1s) and only set for calls that connected.
// No-op on a terminal call.
func (c *Call) MarkEnded(status CallStatus, at time.Time) {
	if c.Status.IsTerminal() || !status.IsTerminal() {
		return
	}
	c.Status = status
	if c.EndedAt == nil {
		t := at
		c.EndedAt = &t
	}
	if c.ConnectedAt != nil && c.Duration == nil {
		d := DurationSeconds(*c.ConnectedAt, *c.EndedAt)
		c.Duration = &d
	}
}

// Seal fills EndedAt and Duration of a terminal call when the row that
// closed it did not carry them
func (c *Call) Seal(at time.Time) {
	if !c.Status.IsTerminal() {
		return
	}
	if c.EndedAt == nil {
		t := at
		c.EndedAt = &t
	}
	if c.ConnectedAt != nil && c.Duration == nil {
		d := DurationSeconds(*c.ConnectedAt, *c.EndedAt)
		c.Duration = &d
	}
}

// Apply merges a partial update. Status never moves backwards in rank and a
// terminal call is immutable. Timestamps already set are kept.
func (c *Call) Apply(upd CallUpdate) {
	if c.Status.IsTerminal() {
		return
	}
	if upd.Status != nil && upd.Status.Rank() >= c.Status.Rank() {
		c.Status = *upd.Status
	}
	if upd.ConnectedAt != nil && c.ConnectedAt == nil {
		t := *upd.ConnectedAt
		c.ConnectedAt = &t
	}
	if upd.EndedAt != nil && c.EndedAt == nil {
		t := *upd.EndedAt
		c.EndedAt = &t
	}
	if upd.Duration != nil && c.Duration == nil {
		d := *upd.Duration
		c.Duration = &d
	}
}

// Merge folds a newer observation of the same call into c, keeping the
// furthest status. Returns true if c changed.
func (c *Call) Merge(other *Call) bool {
	if other == nil || other.ID != c.ID || c.Status.IsTerminal() {
		return false
	}
	if other.Status.Rank() < c.Status.Rank() {
		return false
	}
	before := *c
	c.Apply(CallUpdate{
		Status:      &other.Status,
		ConnectedAt: other.ConnectedAt,
		EndedAt:     other.EndedAt,
		Duration:    other.Duration,
	})
	return before.Status != c.Status ||
		(before.ConnectedAt == nil) != (c.ConnectedAt == nil) ||
		(before.EndedAt == nil) != (c.EndedAt == nil) ||
		(before.Duration == nil) != (c.Duration == nil)
}

// DurationSeconds returns the whole seconds between connected and ended,
// truncated toward zero and never negative
func DurationSeconds(connected, ended time.Time) int {
	ms := ended.Sub(connected).Milliseconds()
	if ms < 0 {
		return 0
	}
	return int(ms / 1000)
}

// EndedUpdate builds the terminal CallUpdate for c after MarkEnded
func (c *Call) EndedUpdate() CallUpdate {
	status := c.Status
	return CallUpdate{
		Status:   &status,
		EndedAt:  c.EndedAt,
		Duration: c.Duration,
	}
}

// StatusUpdate builds a CallUpdate carrying only a status
func StatusUpdate(status CallStatus) CallUpdate {
	return CallUpdate{Status: &status}
}
