// Package replaystore backs the frame replay window with Redis, so a
// multi-instance gateway deployment shares one (session_id,
// correlation_id) dedup set instead of each instance keeping its own —
// generalizing a replay window that's otherwise local to a single gateway
// instance to one shared by a whole gateway cluster when Redis is configured.
package replaystore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stacklok/talos/pkg/frame"
)

// RedisReplayStore implements frame.ReplayStore over a Redis client: each
// (session_id, correlation_id) pair becomes a key set with SETNX and an
// expiry equal to the replay window, so Redis itself evicts stale entries.
type RedisReplayStore struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
}

// NewRedisReplayStore creates a store using the default replay window.
func NewRedisReplayStore(client *redis.Client, keyPrefix string) *RedisReplayStore {
	return NewRedisReplayStoreWithWindow(client, keyPrefix, frame.ReplayWindow)
}

// NewRedisReplayStoreWithWindow creates a store using a custom window,
// for tests.
func NewRedisReplayStoreWithWindow(client *redis.Client, keyPrefix string, window time.Duration) *RedisReplayStore {
	return &RedisReplayStore{client: client, keyPrefix: keyPrefix, window: window}
}

// CheckAndRecord implements frame.ReplayStore. Redis enforces the window
// itself: the key's TTL is the window, counted from when Redis sets the
// key. issuedAt is stored only as the key's value, and now is not used.
func (s *RedisReplayStore) CheckAndRecord(sessionID, correlationID string, issuedAt, now time.Time) bool {
	key := s.keyPrefix + sessionID + ":" + correlationID
	ctx := context.Background()
	ok, err := s.client.SetNX(ctx, key, issuedAt.Unix(), s.window).Result()
	if err != nil {
		// A down Redis is a collaborator failure, not a replay, but the
		// interface has no error return. Fail closed (treat as replay) so
		// a caller doesn't dispatch on a dedup table it can't trust.
		return true
	}
	return !ok
}

var _ frame.ReplayStore = (*RedisReplayStore)(nil)
