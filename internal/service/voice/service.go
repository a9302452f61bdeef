package voice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
)

// DefaultChannels is the built-in room catalog
var DefaultChannels = []domain.VoiceChannel{
	{ID: "lounge", Name: "Lounge", Category: "general", Capacity: 8},
	{ID: "jam-room", Name: "Jam Room", Category: "music", Capacity: 4},
	{ID: "listening-party", Name: "Listening Party", Category: "music", Capacity: 25},
	{ID: "studio", Name: "Studio", Category: "collab", Capacity: 2},
}

type member struct {
	sessionID string
	user      domain.VoiceUser
	joinedAt  time.Time
}

// Service simulates group voice rooms locally
type Service struct {
	clock clock.Clock

	mu       sync.Mutex
	channels map[string]domain.VoiceChannel
	order    []string
	rooms    map[string][]*member
	sessions map[string]string // session id -> channel id
}

// NewService creates a voice service over channels; DefaultChannels when empty
func NewService(channels []domain.VoiceChannel, clk clock.Clock) *Service {
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		clock:    clk,
		channels: make(map[string]domain.VoiceChannel, len(channels)),
		rooms:    make(map[string][]*member),
		sessions: make(map[string]string),
	}
	for _, ch := range channels {
		s.channels[ch.ID] = ch
		s.order = append(s.order, ch.ID)
	}
	return s
}

// ChannelInfo is a channel with its current occupancy
type ChannelInfo struct {
	domain.VoiceChannel
	Occupancy int `json:"occupancy"`
}

// ListChannels returns the catalog in declaration order
func (s *Service) ListChannels(ctx context.Context) []ChannelInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ChannelInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, ChannelInfo{VoiceChannel: s.channels[id], Occupancy: len(s.rooms[id])})
	}
	return out
}

// Join adds user to channelID. A user already in the room gets the
// existing session back.
func (s *Service) Join(ctx context.Context, channelID string, user domain.VoiceUser) (*domain.VoiceSession, error) {
	if user.UserID == "" {
		return nil, errors.InvalidInputError("userId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelID]
	if !ok {
		return nil, errors.NotFoundError("Voice channel")
	}

	for _, m := range s.rooms[channelID] {
		if m.user.UserID == user.UserID {
			return s.sessionLocked(m.sessionID), nil
		}
	}
	if ch.Capacity > 0 && len(s.rooms[channelID]) >= ch.Capacity {
		return nil, errors.ConflictError("Voice channel is full")
	}

	if user.DisplayName == "" {
		user.DisplayName = user.UserID
	}
	user.Status = domain.VoiceConnected
	user.IsSpeaking = false

	m := &member{
		sessionID: uuid.NewString(),
		user:      user,
		joinedAt:  s.clock.Now().UTC(),
	}
	s.rooms[channelID] = append(s.rooms[channelID], m)
	s.sessions[m.sessionID] = channelID

	logger.Info("Joined voice channel",
		logger.UserID(user.UserID),
		zap.String("channel_id", channelID),
		zap.String("session_id", m.sessionID),
	)
	return s.sessionLocked(m.sessionID), nil
}

// Leave ends a session
func (s *Service) Leave(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelID, ok := s.sessions[sessionID]
	if !ok {
		return errors.NotFoundError("Voice session")
	}
	delete(s.sessions, sessionID)

	room := s.rooms[channelID]
	for i, m := range room {
		if m.sessionID == sessionID {
			s.rooms[channelID] = append(room[:i:i], room[i+1:]...)
			logger.Info("Left voice channel",
				logger.UserID(m.user.UserID),
				zap.String("channel_id", channelID),
			)
			break
		}
	}
	if len(s.rooms[channelID]) == 0 {
		delete(s.rooms, channelID)
	}
	return nil
}

// SetMuted updates the session owner's mute flag
func (s *Service) SetMuted(ctx context.Context, sessionID string, muted bool) (*domain.VoiceSession, error) {
	return s.updateMember(sessionID, func(u *domain.VoiceUser) {
		u.IsMuted = muted
		if muted {
			u.IsSpeaking = false
		}
	})
}

// SetSpeaking updates the session owner's speaking flag. A muted user never
// shows as speaking.
func (s *Service) SetSpeaking(ctx context.Context, sessionID string, speaking bool) (*domain.VoiceSession, error) {
	return s.updateMember(sessionID, func(u *domain.VoiceUser) {
		u.IsSpeaking = speaking && !u.IsMuted
	})
}

// Session returns the session with the room's current roster
func (s *Service) Session(ctx context.Context, sessionID string) (*domain.VoiceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, errors.NotFoundError("Voice session")
	}
	return s.sessionLocked(sessionID), nil
}

func (s *Service) updateMember(sessionID string, fn func(u *domain.VoiceUser)) (*domain.VoiceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelID, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.NotFoundError("Voice session")
	}
	for _, m := range s.rooms[channelID] {
		if m.sessionID == sessionID {
			fn(&m.user)
		}
	}
	return s.sessionLocked(sessionID), nil
}

func (s *Service) sessionLocked(sessionID string) *domain.VoiceSession {
	channelID := s.sessions[sessionID]
	room := append([]*member(nil), s.rooms[channelID]...)
	sort.SliceStable(room, func(i, j int) bool { return room[i].joinedAt.Before(room[j].joinedAt) })

	session := &domain.VoiceSession{
		ID:      sessionID,
		Channel: s.channels[channelID],
		Users:   make([]domain.VoiceUser, 0, len(room)),
	}
	for _, m := range room {
		session.Users = append(session.Users, m.user)
		if m.sessionID == sessionID {
			session.JoinedAt = m.joinedAt
		}
	}
	return session
}
