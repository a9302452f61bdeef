package directory

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"riffline-calling/internal/domain"
	"riffline-calling/internal/repository/cockroach"
	"riffline-calling/internal/signaling"
	"riffline-calling/pkg/cache"
	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/durable"
	"riffline-calling/pkg/errors"
	"riffline-calling/pkg/logger"
)

// CallStore is the shared calls table
type CallStore interface {
	Create(ctx context.Context, call *domain.Call) error
	Update(ctx context.Context, callID string, upd domain.CallUpdate) (*domain.Call, error)
	GetUserCalls(ctx context.Context, userID string, limit int) ([]*domain.Call, error)
	GetActiveForUser(ctx context.Context, userID string) ([]*domain.Call, error)
}

// HistoryStore is the device-local call history
type HistoryStore interface {
	Append(ctx context.Context, item *domain.CallHistoryItem) (bool, error)
	List(ctx context.Context, ownerID string) ([]*domain.CallHistoryItem, error)
}

// ProfileLookup resolves display identities
type ProfileLookup interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
}

// Publisher announces call row changes on the signal channel
type Publisher interface {
	PublishCall(ctx context.Context, kind signaling.EventKind, call *domain.Call) error
}

// maxTrackedCalls bounds the local call cache; terminal calls are pruned first
const maxTrackedCalls = 64

// Deps holds the directory's collaborators. Calls, Profiles and Publisher
// may be nil; without Calls the directory runs in local-only mode and
// announces its local copy.
type Deps struct {
	Calls     CallStore
	History   HistoryStore
	Profiles  ProfileLookup
	Publisher Publisher
	Mutator   *durable.Mutator
	Clock     clock.Clock
	// Limit caps history reads; defaults to constants.CallHistoryLimit
	Limit int
}

// Service is the durable call directory: the shared calls table, the local
// call cache and the local history
type Service struct {
	calls     CallStore
	history   HistoryStore
	profiles  ProfileLookup
	publisher Publisher
	mutator   *durable.Mutator
	clock     clock.Clock
	limit     int

	profileCache *cache.Typed[*domain.Profile]
	stopCleanup  func()
	closeOnce    sync.Once

	mu    sync.Mutex
	local map[string]*domain.Call
}

// NewService creates a new directory service
func NewService(deps Deps) *Service {
	if deps.Mutator == nil {
		deps.Mutator = durable.NewMutator(nil, constants.RemoteWriteTimeout)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Limit <= 0 {
		deps.Limit = constants.CallHistoryLimit
	}

	profileCache := cache.NewMemoryCache(constants.ProfileCacheTTL, constants.ProfileCacheSize, deps.Clock)

	return &Service{
		calls:        deps.Calls,
		history:      deps.History,
		profiles:     deps.Profiles,
		publisher:    deps.Publisher,
		mutator:      deps.Mutator,
		clock:        deps.Clock,
		limit:        deps.Limit,
		profileCache: cache.NewTyped[*domain.Profile](profileCache, "profile:"),
		stopCleanup:  profileCache.StartCleanup(constants.ProfileCacheCleanupInterval),
		local:        make(map[string]*domain.Call),
	}
}

// Close stops the profile cache sweeper
func (s *Service) Close() {
	s.closeOnce.Do(s.stopCleanup)
}

// Remember records a call learned from the feed in the local call cache
func (s *Service) Remember(call *domain.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rememberLocked(call)
}

func (s *Service) rememberLocked(call *domain.Call) {
	if existing, ok := s.local[call.ID]; ok {
		existing.Merge(call)
		return
	}
	if len(s.local) >= maxTrackedCalls {
		for id, c := range s.local {
			if c.Status.IsTerminal() {
				delete(s.local, id)
			}
		}
	}
	s.local[call.ID] = call.Clone()
}

// CreateCall stores a new call row and announces it to the callee. On a
// remote failure it returns nil with a TRANSPORT_ERROR; the local copy is kept.
func (s *Service) CreateCall(ctx context.Context, call *domain.Call) (*domain.Call, error) {
	snapshot := call.Clone()

	err := s.mutator.Apply(ctx, durable.Mutation{
		Name:  "create_call",
		Local: func() { s.Remember(snapshot) },
		Remote: func(ctx context.Context) error {
			if s.calls != nil {
				if err := s.calls.Create(ctx, snapshot); err != nil {
					return err
				}
			}
			return s.publish(ctx, signaling.EventCallInserted, snapshot)
		},
	})
	if err != nil {
		return nil, err
	}
	return snapshot.Clone(), nil
}

// UpdateCall applies a partial update. The local copy is merged first; on a
// remote failure the merged local copy is returned with a TRANSPORT_ERROR.
func (s *Service) UpdateCall(ctx context.Context, callID string, upd domain.CallUpdate) (*domain.Call, error) {
	if s.calls == nil {
		s.mu.Lock()
		_, known := s.local[callID]
		s.mu.Unlock()
		if !known {
			return nil, errors.CallNotFoundError(callID)
		}
	}

	var merged *domain.Call
	var stored *domain.Call

	err := s.mutator.Apply(ctx, durable.Mutation{
		Name: "update_call",
		Local: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.local[callID]; ok {
				c.Apply(upd)
				merged = c.Clone()
			}
		},
		Remote: func(ctx context.Context) error {
			row := merged
			if s.calls != nil {
				var err error
				row, err = s.calls.Update(ctx, callID, upd)
				if err != nil {
					return err
				}
			}
			stored = row
			s.Remember(row)
			return s.publish(ctx, signaling.EventCallUpdated, row)
		},
	})

	if err != nil {
		if merged == nil && stderrors.Is(err, cockroach.ErrCallNotFound) {
			return nil, errors.CallNotFoundError(callID)
		}
		return merged, err
	}
	return stored, nil
}

func (s *Service) publish(ctx context.Context, kind signaling.EventKind, call *domain.Call) error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.PublishCall(ctx, kind, call)
}

// GetCallHistory returns the user's most recent calls from the shared table,
// enriched with peer profiles. When the table is unreachable it returns the
// local history together with a TRANSPORT_ERROR.
func (s *Service) GetCallHistory(ctx context.Context, userID string) ([]*domain.CallHistoryItem, error) {
	if s.calls == nil {
		return s.LocalHistory(ctx, userID)
	}

	remoteCtx, cancel := context.WithTimeout(ctx, constants.RemoteWriteTimeout)
	defer cancel()

	calls, err := s.calls.GetUserCalls(remoteCtx, userID, s.limit)
	if err != nil {
		logger.Warn("Call history unavailable, using local history",
			logger.UserID(userID),
			zap.Error(err),
		)
		items, localErr := s.LocalHistory(ctx, userID)
		if localErr != nil {
			return nil, localErr
		}
		return items, errors.TransportError("get_call_history", err)
	}

	items := make([]*domain.CallHistoryItem, 0, len(calls))
	for _, c := range calls {
		items = append(items, domain.NewCallHistoryItem(userID, c, s.lookupProfile(ctx, c.Peer(userID)), c.CreatedAt))
	}
	return items, nil
}

// GetActiveCalls returns the user's non-terminal calls, oldest first
func (s *Service) GetActiveCalls(ctx context.Context, userID string) ([]*domain.Call, error) {
	if s.calls == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		var active []*domain.Call
		for _, c := range s.local {
			if !c.Status.IsTerminal() && c.Involves(userID) {
				active = append(active, c.Clone())
			}
		}
		sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
		return active, nil
	}

	remoteCtx, cancel := context.WithTimeout(ctx, constants.RemoteWriteTimeout)
	defer cancel()

	calls, err := s.calls.GetActiveForUser(remoteCtx, userID)
	if err != nil {
		return nil, errors.TransportError("get_active_calls", err)
	}
	return calls, nil
}

// AppendHistory records a terminated call in ownerID's local history.
// Appending the same call twice is a no-op.
func (s *Service) AppendHistory(ctx context.Context, ownerID string, call *domain.Call) (*domain.CallHistoryItem, error) {
	if s.history == nil {
		return nil, nil
	}

	item := domain.NewCallHistoryItem(ownerID, call, s.lookupProfile(ctx, call.Peer(ownerID)), s.clock.Now().UTC())

	added, err := s.history.Append(ctx, item)
	if err != nil {
		logger.Error("Failed to append call history",
			logger.CallID(call.ID),
			logger.UserID(ownerID),
			zap.Error(err),
		)
		return nil, errors.DatabaseError(err)
	}
	if !added {
		logger.Debug("Call already in history", logger.CallID(call.ID))
	}
	return item, nil
}

// LocalHistory returns ownerID's local history, newest first
func (s *Service) LocalHistory(ctx context.Context, ownerID string) ([]*domain.CallHistoryItem, error) {
	if s.history == nil {
		return []*domain.CallHistoryItem{}, nil
	}
	items, err := s.history.List(ctx, ownerID)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	return items, nil
}

// lookupProfile returns nil when the profile cannot be resolved
func (s *Service) lookupProfile(ctx context.Context, userID string) *domain.Profile {
	if p, ok := s.profileCache.Get(userID); ok {
		return p
	}
	if s.profiles == nil {
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, constants.RemoteWriteTimeout)
	defer cancel()

	p, err := s.profiles.GetProfile(lookupCtx, userID)
	if err != nil {
		logger.Warn("Profile lookup failed, using user id", logger.UserID(userID), zap.Error(err))
		return nil
	}
	s.profileCache.Set(userID, p)
	return p
}
