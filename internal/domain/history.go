package domain

import "time"

// Profile is a user's public display identity
type Profile struct {
	UserID      string `json:"userId" db:"user_id"`
	DisplayName string `json:"displayName" db:"display_name"`
	AvatarURL   string `json:"avatarUrl,omitempty" db:"avatar_url"`
}

// CallHistoryItem is a terminated call enriched with the peer's identity,
// as stored in one owner's local history
type CallHistoryItem struct {
	Call
	OwnerID         string    `json:"ownerId"`
	PeerID          string    `json:"peerId"`
	PeerDisplayName string    `json:"peerDisplayName"`
	PeerAvatarURL   string    `json:"peerAvatarUrl,omitempty"`
	Direction       Direction `json:"direction"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// NewCallHistoryItem builds a history item for owner. A nil profile falls
// back to the peer id as display name.
func NewCallHistoryItem(owner string, call *Call, peer *Profile, now time.Time) *CallHistoryItem {
	peerID := call.Peer(owner)
	item := &CallHistoryItem{
		Call:            *call.Clone(),
		OwnerID:         owner,
		PeerID:          peerID,
		PeerDisplayName: peerID,
		Direction:       call.DirectionFor(owner),
		RecordedAt:      now,
	}
	if peer != nil {
		if peer.DisplayName != "" {
			item.PeerDisplayName = peer.DisplayName
		}
		item.PeerAvatarURL = peer.AvatarURL
	}
	return item
}
