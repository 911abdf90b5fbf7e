// Package auth resolves the service tier for a user.
package auth

import (
	"os"
	"strings"
	"sync"

	"dev.helix.ensemble/internal/models"
)

// TierStore resolves a user's tier. Unknown users are free tier.
type TierStore interface {
	TierFor(userID string) models.Tier
}

// StaticTierStore keeps an in-memory user to tier mapping.
type StaticTierStore struct {
	mu    sync.RWMutex
	users map[string]models.Tier
}

// NewStaticTierStore creates a store seeded with the given mapping.
func NewStaticTierStore(users map[string]models.Tier) *StaticTierStore {
	s := &StaticTierStore{users: make(map[string]models.Tier, len(users))}
	for id, tier := range users {
		if tier.Valid() {
			s.users[id] = tier
		}
	}
	return s
}

// TierFor returns the user's tier, free when unknown.
func (s *StaticTierStore) TierFor(userID string) models.Tier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tier, ok := s.users[userID]; ok {
		return tier
	}
	return models.TierFree
}

// Set installs or updates one user's tier.
func (s *StaticTierStore) Set(userID string, tier models.Tier) {
	if !tier.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = tier
}

// FromEnv builds a static store from PREMIUM_USERS, a comma-separated list
// of user IDs granted the premium tier.
func FromEnv() *StaticTierStore {
	users := make(map[string]models.Tier)
	for _, id := range strings.Split(os.Getenv("PREMIUM_USERS"), ",") {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			users[trimmed] = models.TierPremium
		}
	}
	return NewStaticTierStore(users)
}

// Resolve picks the effective tier for a request: an explicit valid tier on
// the request wins, otherwise the store decides.
func Resolve(store TierStore, req *models.Request) models.Tier {
	if req.Tier.Valid() {
		return req.Tier
	}
	if store != nil {
		return store.TierFor(req.UserID)
	}
	return models.TierFree
}
