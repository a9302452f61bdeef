// Package device abstracts the local media hardware a call touches: the
// microphone/camera capture session, the ringtone player and haptics.
package device

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"riffline-calling/pkg/logger"
	"riffline-calling/pkg/metrics"
)

// ErrPermissionDenied marks refused microphone or camera access
var ErrPermissionDenied = errors.New("media permission denied")

// Capture is the microphone/camera session
type Capture interface {
	Start(ctx context.Context) error
	Stop() error
	SetMuted(muted bool)
	SetVideoEnabled(enabled bool)
}

// Ringtone plays the incoming call sound
type Ringtone interface {
	Play() error
	Stop() error
}

// Intensity is a haptic impulse strength
type Intensity string

const (
	IntensityLight  Intensity = "light"
	IntensityMedium Intensity = "medium"
	IntensityHeavy  Intensity = "heavy"
)

// Haptics produces haptic feedback
type Haptics interface {
	Impulse(intensity Intensity) error
}

// Effects wraps the ringtone and haptics. Failures are logged and counted,
// never returned.
type Effects struct {
	ringtone Ringtone
	haptics  Haptics
}

// NewEffects creates an Effects; either device may be nil
func NewEffects(ringtone Ringtone, haptics Haptics) *Effects {
	return &Effects{ringtone: ringtone, haptics: haptics}
}

// StartRinging plays the ringtone
func (e *Effects) StartRinging() {
	if e.ringtone == nil {
		return
	}
	if err := e.ringtone.Play(); err != nil {
		metrics.RecordSideEffectFailure("ringtone_play")
		logger.Warn("Failed to play ringtone", zap.Error(err))
	}
}

// StopRinging stops the ringtone
func (e *Effects) StopRinging() {
	if e.ringtone == nil {
		return
	}
	if err := e.ringtone.Stop(); err != nil {
		metrics.RecordSideEffectFailure("ringtone_stop")
		logger.Warn("Failed to stop ringtone", zap.Error(err))
	}
}

// Impulse fires a haptic impulse
func (e *Effects) Impulse(intensity Intensity) {
	if e.haptics == nil {
		return
	}
	if err := e.haptics.Impulse(intensity); err != nil {
		metrics.RecordSideEffectFailure("haptics")
		logger.Warn("Haptic impulse failed", zap.String("intensity", string(intensity)), zap.Error(err))
	}
}

// SimulatedCapture is an in-memory capture session
type SimulatedCapture struct {
	mu           sync.Mutex
	denied       bool
	active       bool
	muted        bool
	videoEnabled bool
	starts       int
}

// NewSimulatedCapture creates a capture; denied simulates a refused permission
func NewSimulatedCapture(denied bool) *SimulatedCapture {
	return &SimulatedCapture{denied: denied, videoEnabled: true}
}

func (c *SimulatedCapture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.denied {
		return ErrPermissionDenied
	}
	c.active = true
	c.muted = false
	c.videoEnabled = true
	c.starts++
	logger.Debug("Capture started")
	return nil
}

func (c *SimulatedCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	logger.Debug("Capture stopped")
	return nil
}

func (c *SimulatedCapture) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
}

func (c *SimulatedCapture) SetVideoEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videoEnabled = enabled
}

// SetDenied changes the simulated permission
func (c *SimulatedCapture) SetDenied(denied bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denied = denied
}

// Active reports whether the session is open
func (c *SimulatedCapture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Muted reports the microphone mute flag
func (c *SimulatedCapture) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// VideoEnabled reports the camera flag
func (c *SimulatedCapture) VideoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoEnabled
}

// Starts counts successful Start calls
func (c *SimulatedCapture) Starts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// SimulatedRingtone records whether it is playing
type SimulatedRingtone struct {
	mu      sync.Mutex
	playing bool
	fail    error
}

// NewSimulatedRingtone creates a ringtone; a non-nil fail is returned by Play
func NewSimulatedRingtone(fail error) *SimulatedRingtone {
	return &SimulatedRingtone{fail: fail}
}

func (r *SimulatedRingtone) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.playing = true
	logger.Debug("Ringtone playing")
	return nil
}

func (r *SimulatedRingtone) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	return nil
}

// Playing reports whether the ringtone is playing
func (r *SimulatedRingtone) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// SimulatedHaptics records impulses
type SimulatedHaptics struct {
	mu       sync.Mutex
	impulses []Intensity
}

// NewSimulatedHaptics creates a haptics recorder
func NewSimulatedHaptics() *SimulatedHaptics {
	return &SimulatedHaptics{}
}

func (h *SimulatedHaptics) Impulse(intensity Intensity) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.impulses = append(h.impulses, intensity)
	logger.Debug("Haptic impulse", zap.String("intensity", string(intensity)))
	return nil
}

// Impulses returns the recorded impulses in order
func (h *SimulatedHaptics) Impulses() []Intensity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Intensity(nil), h.impulses...)
}
