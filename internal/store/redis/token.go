package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStore persists the session credential so a restart can restore the
// signed-in state.
type TokenStore struct {
	client *redis.Client
}

// NewTokenStore creates a Redis-backed credential store
func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{client: client}
}

// Load returns the stored credential, or "" when none is stored
func (s *TokenStore) Load(ctx context.Context) (string, error) {
	token, err := s.client.Get(ctx, KeySessionToken).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load session token: %w", err)
	}
	return token, nil
}

// Save stores the credential until it expires
func (s *TokenStore) Save(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session token already expired")
	}
	if err := s.client.Set(ctx, KeySessionToken, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

// Clear removes the stored credential
func (s *TokenStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, KeySessionToken).Err(); err != nil {
		return fmt.Errorf("failed to clear session token: %w", err)
	}
	return nil
}
