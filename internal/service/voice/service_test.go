package voice

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riffline-calling/internal/domain"
	"riffline-calling/pkg/errors"
)

func newService() (*Service, *clock.Mock) {
	clk := clock.NewMock()
	channels := []domain.VoiceChannel{
		{ID: "duo", Name: "Duo", Category: "test", Capacity: 2},
		{ID: "open", Name: "Open", Category: "test"},
	}
	return NewService(channels, clk), clk
}

func TestJoin_CapacityEnforced(t *testing.T) {
	svc, clk := newService()
	ctx := context.Background()

	first, err := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "a"})
	require.NoError(t, err)
	clk.Add(time.Second)
	second, err := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "b", DisplayName: "Bea"})
	require.NoError(t, err)

	_, err = svc.Join(ctx, "duo", domain.VoiceUser{UserID: "c"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeConflict))

	assert.Len(t, second.Users, 2)
	assert.Equal(t, "a", second.Users[0].DisplayName)
	assert.Equal(t, domain.VoiceConnected, second.Users[1].Status)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestJoin_Idempotent(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	first, err := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "a"})
	require.NoError(t, err)
	again, err := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "a"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, again.Users, 1)
}

func TestJoin_Errors(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, err := svc.Join(ctx, "missing", domain.VoiceUser{UserID: "a"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))

	_, err = svc.Join(ctx, "open", domain.VoiceUser{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestLeave(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	a, _ := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "a"})
	b, _ := svc.Join(ctx, "duo", domain.VoiceUser{UserID: "b"})

	require.NoError(t, svc.Leave(ctx, a.ID))

	session, err := svc.Session(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, session.Users, 1)

	assert.True(t, errors.IsCode(svc.Leave(ctx, a.ID), errors.ErrCodeNotFound))

	_, err = svc.Join(ctx, "duo", domain.VoiceUser{UserID: "c"})
	assert.NoError(t, err)
}

func TestMuteAndSpeaking(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	s, _ := svc.Join(ctx, "open", domain.VoiceUser{UserID: "a"})

	s, err := svc.SetSpeaking(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, s.Users[0].IsSpeaking)

	s, err = svc.SetMuted(ctx, s.ID, true)
	require.NoError(t, err)
	assert.True(t, s.Users[0].IsMuted)
	assert.False(t, s.Users[0].IsSpeaking)

	s, err = svc.SetSpeaking(ctx, s.ID, true)
	require.NoError(t, err)
	assert.False(t, s.Users[0].IsSpeaking)

	_, err = svc.SetMuted(ctx, "nope", false)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
}

func TestListChannels_Occupancy(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	_, _ = svc.Join(ctx, "open", domain.VoiceUser{UserID: "a"})
	channels := svc.ListChannels(ctx)

	require.Len(t, channels, 2)
	assert.Equal(t, "duo", channels[0].ID)
	assert.Equal(t, 0, channels[0].Occupancy)
	assert.Equal(t, 1, channels[1].Occupancy)
}

func TestNewService_DefaultCatalog(t *testing.T) {
	svc := NewService(nil, nil)

	assert.Len(t, svc.ListChannels(context.Background()), len(DefaultChannels))
}
