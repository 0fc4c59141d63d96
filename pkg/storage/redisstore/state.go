package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/ssobridge/pkg/sso"
)

// StateStore keeps OAuth state values in redis so any replica can complete a
// login. Consume uses GETDEL, making each state single-use.
type StateStore struct {
	client *redis.Client
	prefix string
}

// NewStateStore creates a state store on client.
func NewStateStore(client *redis.Client, prefix string) *StateStore {
	return &StateStore{client: client, prefix: prefix}
}

func (s *StateStore) key(sessionID string) string {
	return prefixed(s.prefix, "state:"+sessionID)
}

// Save stores state for sessionID, replacing any pending value.
func (s *StateStore) Save(ctx context.Context, sessionID, state string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(sessionID), state, ttl).Err(); err != nil {
		return fmt.Errorf("redis set state failed: %w", err)
	}
	return nil
}

// Consume returns and removes the state for sessionID. A missing or expired
// state yields "".
func (s *StateStore) Consume(ctx context.Context, sessionID string) (string, error) {
	state, err := s.client.GetDel(ctx, s.key(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel state failed: %w", err)
	}
	return state, nil
}

var _ sso.StateStore = (*StateStore)(nil)
