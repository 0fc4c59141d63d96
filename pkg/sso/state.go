package sso

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// stateBytes of entropy encode to a 43 character state.
const stateBytes = 32

// StateStore persists the CSRF state for a login session.
// Consume must be an atomic get-and-delete.
type StateStore interface {
	Save(ctx context.Context, sessionID, state string, ttl time.Duration) error
	// Consume returns the stored state and removes it. A missing or expired
	// state returns "" and a nil error.
	Consume(ctx context.Context, sessionID string) (string, error)
}

// GenerateState returns a URL-safe random state value.
func GenerateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type stateEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]stateEntry),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Save(_ context.Context, sessionID, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	// drop expired entries so abandoned logins do not accumulate
	for id, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}

	entry := stateEntry{value: state}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.entries[sessionID] = entry
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return "", nil
	}
	delete(s.entries, sessionID)
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		return "", nil
	}
	return entry.value, nil
}
