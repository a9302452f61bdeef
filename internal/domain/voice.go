package domain

import "time"

// VoiceConnectionStatus is a voice room member's connection status
type VoiceConnectionStatus string

const (
	VoiceConnecting   VoiceConnectionStatus = "connecting"
	VoiceConnected    VoiceConnectionStatus = "connected"
	VoiceDisconnected VoiceConnectionStatus = "disconnected"
)

// VoiceChannel is a named voice room
type VoiceChannel struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Capacity int    `json:"capacity"`
}

// VoiceUser is a member of a voice room
type VoiceUser struct {
	UserID      string                `json:"userId"`
	DisplayName string                `json:"displayName"`
	IsSpeaking  bool                  `json:"isSpeaking"`
	IsMuted     bool                  `json:"isMuted"`
	Status      VoiceConnectionStatus `json:"status"`
}

// VoiceSession is one user's membership of a voice channel
type VoiceSession struct {
	ID       string       `json:"id"`
	Channel  VoiceChannel `json:"channel"`
	Users    []VoiceUser  `json:"users"`
	JoinedAt time.Time    `json:"joinedAt"`
}
