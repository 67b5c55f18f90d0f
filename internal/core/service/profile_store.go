package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pcportal/portal-auth/internal/core/domain"
	"github.com/pcportal/portal-auth/internal/core/ports"
)

// ProfileStore resolves and caches the profile of the current user.
type ProfileStore struct {
	repo ports.ProfileRepository
	log  zerolog.Logger

	mu      sync.RWMutex
	gen     uint64
	userID  string
	profile *domain.Profile
}

// NewProfileStore returns a ProfileStore backed by repo.
func NewProfileStore(repo ports.ProfileRepository, log zerolog.Logger) *ProfileStore {
	return &ProfileStore{repo: repo, log: log}
}

// FetchProfile looks up the profile of userID. Lookup failures, including a
// missing row, are logged and reported as ok=false.
func (s *ProfileStore) FetchProfile(ctx context.Context, userID string) (*domain.Profile, bool) {
	if userID == "" {
		return nil, false
	}
	p, err := s.repo.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			s.log.Warn().Str("user_id", userID).Msg("authenticated user has no profile")
		} else {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		}
		return nil, false
	}
	return p, true
}

// Sync re-resolves the cached profile for user. A nil user clears the cache.
// current is false when a newer Sync started while this one was fetching;
// its result was discarded.
func (s *ProfileStore) Sync(ctx context.Context, user *domain.User) (profile *domain.Profile, current bool) {
	return s.resolve(ctx, s.begin(user), user)
}

// begin reserves the next sync generation for user. Callers that order their
// own transitions call it inside their critical section so both orders agree.
func (s *ProfileStore) begin(user *domain.User) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if user == nil {
		s.userID = ""
		s.profile = nil
		return s.gen
	}
	if s.userID != user.ID {
		s.profile = nil
	}
	s.userID = user.ID
	return s.gen
}

func (s *ProfileStore) resolve(ctx context.Context, gen uint64, user *domain.User) (*domain.Profile, bool) {
	if user == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return nil, gen == s.gen
	}

	p, _ := s.FetchProfile(ctx, user.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		s.log.Debug().Str("user_id", user.ID).Msg("stale profile result discarded")
		return nil, false
	}
	s.profile = p
	return p.Clone(), true
}

// Profile returns a copy of the cached profile or nil.
func (s *ProfileStore) Profile() *domain.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.Clone()
}

// Clear drops the cache and invalidates in-flight Syncs.
func (s *ProfileStore) Clear() {
	s.mu.Lock()
	s.gen++
	s.userID = ""
	s.profile = nil
	s.mu.Unlock()
}

// UpdateOwn applies a self-service edit to the profile of userID. Approval
// fields are not part of the patch and cannot change here.
func (s *ProfileStore) UpdateOwn(ctx context.Context, userID string, patch domain.ProfilePatch) (*domain.Profile, error) {
	if userID == "" {
		return nil, domain.ErrNotAuthenticated
	}
	if patch.Empty() {
		p, ok := s.FetchProfile(ctx, userID)
		if !ok {
			return nil, domain.ErrProfileNotFound
		}
		return p, nil
	}
	p, err := s.repo.Update(ctx, userID, patch)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}

	s.mu.Lock()
	if s.userID == userID {
		s.gen++
		s.profile = p.Clone()
	}
	s.mu.Unlock()

	s.log.Info().Str("user_id", userID).Msg("profile updated")
	return p, nil
}
