package call

import (
	"encoding/json"

	"riffline-calling/internal/domain"
)

// Phase names the state machine position
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseCalling   Phase = "calling"
	PhaseConnected Phase = "connected"
)

// State is the device's call state. Exactly one of Idle, Calling or
// Connected.
type State interface {
	Phase() Phase
	isState()
}

// Idle means no call is in progress
type Idle struct{}

// Calling is a call that has not been answered yet
type Calling struct {
	Call      *domain.Call
	Direction domain.Direction
}

// Connected is an answered call
type Connected struct {
	Call      *domain.Call
	Direction domain.Direction
}

func (Idle) Phase() Phase      { return PhaseIdle }
func (Calling) Phase() Phase   { return PhaseCalling }
func (Connected) Phase() Phase { return PhaseConnected }

func (Idle) isState()      {}
func (Calling) isState()   {}
func (Connected) isState() {}

// MediaState holds the local toggles
type MediaState struct {
	Muted     bool `json:"muted"`
	VideoOff  bool `json:"videoOff"`
	SpeakerOn bool `json:"speakerOn"`
}

// PeerMedia is the peer's toggles as last signalled
type PeerMedia struct {
	Muted    bool `json:"muted"`
	VideoOff bool `json:"videoOff"`
}

// Snapshot is a copy of the manager state
type Snapshot struct {
	State State
	Media MediaState
	Peer  PeerMedia
}

// Call returns the current call, or nil when idle
func (s Snapshot) Call() *domain.Call {
	call, _ := currentOf(s.State)
	return call
}

// Direction returns the current call direction, empty when idle
func (s Snapshot) Direction() domain.Direction {
	_, dir := currentOf(s.State)
	return dir
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Phase     Phase            `json:"phase"`
		Direction domain.Direction `json:"direction,omitempty"`
		Call      *domain.Call     `json:"call,omitempty"`
		Media     MediaState       `json:"media"`
		Peer      PeerMedia        `json:"peer"`
	}{
		Phase:     s.State.Phase(),
		Direction: s.Direction(),
		Call:      s.Call(),
		Media:     s.Media,
		Peer:      s.Peer,
	})
}

func currentOf(st State) (*domain.Call, domain.Direction) {
	switch s := st.(type) {
	case Calling:
		return s.Call, s.Direction
	case Connected:
		return s.Call, s.Direction
	}
	return nil, ""
}

// cloneState deep-copies the call held by st
func cloneState(st State) State {
	switch s := st.(type) {
	case Calling:
		return Calling{Call: s.Call.Clone(), Direction: s.Direction}
	case Connected:
		return Connected{Call: s.Call.Clone(), Direction: s.Direction}
	}
	return Idle{}
}
