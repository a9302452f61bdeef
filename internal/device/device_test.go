package device

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedCapture_Permission(t *testing.T) {
	c := NewSimulatedCapture(true)

	err := c.Start(context.Background())

	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.False(t, c.Active())

	c.SetDenied(false)
	assert.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Active())
	assert.Equal(t, 1, c.Starts())
}

func TestSimulatedCapture_StartResetsToggles(t *testing.T) {
	c := NewSimulatedCapture(false)
	c.SetMuted(true)
	c.SetVideoEnabled(false)

	assert.NoError(t, c.Start(context.Background()))

	assert.False(t, c.Muted())
	assert.True(t, c.VideoEnabled())
}

func TestEffects_SwallowsFailures(t *testing.T) {
	ringtone := NewSimulatedRingtone(stderrors.New("audio session busy"))
	haptics := NewSimulatedHaptics()
	effects := NewEffects(ringtone, haptics)

	assert.NotPanics(t, func() {
		effects.StartRinging()
		effects.StopRinging()
		effects.Impulse(IntensityHeavy)
	})
	assert.False(t, ringtone.Playing())
	assert.Equal(t, []Intensity{IntensityHeavy}, haptics.Impulses())
}

func TestEffects_NilDevices(t *testing.T) {
	effects := NewEffects(nil, nil)

	assert.NotPanics(t, func() {
		effects.StartRinging()
		effects.StopRinging()
		effects.Impulse(IntensityLight)
	})
}
