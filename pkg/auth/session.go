package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SessionStore holds the full principal for a logged-in user, keyed by user id.
// Tokens carry only sealed metadata; handlers load the principal from here.
type SessionStore interface {
	Save(ctx context.Context, user *LoggedInUser) error
	// Get returns ErrNotFound when no session exists
	Get(ctx context.Context, userID string) (*LoggedInUser, error)
	Delete(ctx context.Context, userID string) error
}

// MemorySessionStore is a process-local SessionStore with a bounded size and TTL
type MemorySessionStore struct {
	cache *expirable.LRU[string, LoggedInUser]
}

// NewMemorySessionStore creates an in-memory session store
func NewMemorySessionStore(size int, ttl time.Duration) *MemorySessionStore {
	if size <= 0 {
		size = 10000
	}
	return &MemorySessionStore{cache: expirable.NewLRU[string, LoggedInUser](size, nil, ttl)}
}

func (s *MemorySessionStore) Save(_ context.Context, user *LoggedInUser) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: session requires a user id", ErrValidation)
	}
	s.cache.Add(user.ID, *user)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, userID string) (*LoggedInUser, error) {
	user, ok := s.cache.Get(userID)
	if !ok {
		return nil, fmt.Errorf("session for %s: %w", userID, ErrNotFound)
	}
	return &user, nil
}

func (s *MemorySessionStore) Delete(_ context.Context, userID string) error {
	s.cache.Remove(userID)
	return nil
}
