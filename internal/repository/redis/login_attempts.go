package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "login_failures:"

// LoginAttemptStore implements repository.LoginAttemptStore using Redis
// counters that expire with the lockout window.
type LoginAttemptStore struct {
	client *redis.Client
}

// NewLoginAttemptStore creates a new Redis-backed failed login counter.
func NewLoginAttemptStore(client *redis.Client) *LoginAttemptStore {
	return &LoginAttemptStore{client: client}
}

// Failures returns the current failure count for key.
func (s *LoginAttemptStore) Failures(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, keyPrefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get login failures: %w", err)
	}
	return n, nil
}

// RecordFailure increments the counter for key. The window starts at the
// first failure and is not extended by later ones.
func (s *LoginAttemptStore) RecordFailure(ctx context.Context, key string, window time.Duration) (int64, error) {
	k := keyPrefix + key

	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr login failures: %w", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, k, window).Err(); err != nil {
			return n, fmt.Errorf("redis expire login failures: %w", err)
		}
	}
	return n, nil
}

// Reset clears the counter for key.
func (s *LoginAttemptStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del login failures: %w", err)
	}
	return nil
}
