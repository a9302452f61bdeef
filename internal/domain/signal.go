package domain

import (
	"encoding/json"
	"time"
)

// SignalType is the kind of a peer-to-peer signal
type SignalType string

const (
	SignalOffer        SignalType = "offer"
	SignalAnswer       SignalType = "answer"
	SignalICECandidate SignalType = "ice-candidate"
	SignalEndCall      SignalType = "end-call"
	SignalMute         SignalType = "mute"
	SignalUnmute       SignalType = "unmute"
	SignalVideoOn      SignalType = "video-on"
	SignalVideoOff     SignalType = "video-off"
)

// Valid reports whether t is a known signal type
func (t SignalType) Valid() bool {
	switch t {
	case SignalOffer, SignalAnswer, SignalICECandidate, SignalEndCall,
		SignalMute, SignalUnmute, SignalVideoOn, SignalVideoOff:
		return true
	}
	return false
}

// Signal is an ephemeral message from one call participant to the other.
// Data is opaque (SDP, ICE candidate, ...).
type Signal struct {
	Type       SignalType      `json:"type"`
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	ToUserID   string          `json:"toUserId"`
	Data       json.RawMessage `json:"data,omitempty"`
	SentAt     time.Time       `json:"sentAt"`
}

// MuteSignal returns mute or unmute for the muted flag
func MuteSignal(muted bool) SignalType {
	if muted {
		return SignalMute
	}
	return SignalUnmute
}

// VideoSignal returns video-off or video-on for the videoOff flag
func VideoSignal(videoOff bool) SignalType {
	if videoOff {
		return SignalVideoOff
	}
	return SignalVideoOn
}
