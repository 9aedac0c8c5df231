package replaystore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, window time.Duration) (*RedisReplayStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisReplayStoreWithWindow(client, "talos:replay:", window), mr
}

func TestCheckAndRecordFirstSeenIsNotReplay(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	defer mr.Close()

	now := time.Unix(1700000000, 0)
	assert.False(t, store.CheckAndRecord("sess-1", "corr-1", now, now))
}

func TestCheckAndRecordDuplicateIsReplay(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	defer mr.Close()

	now := time.Unix(1700000000, 0)
	require.False(t, store.CheckAndRecord("sess-1", "corr-1", now, now))
	assert.True(t, store.CheckAndRecord("sess-1", "corr-1", now, now))
}

func TestCheckAndRecordExpiresAfterWindow(t *testing.T) {
	store, mr := newTestStore(t, time.Second)
	defer mr.Close()

	now := time.Unix(1700000000, 0)
	require.False(t, store.CheckAndRecord("sess-1", "corr-1", now, now))

	mr.FastForward(2 * time.Second)
	assert.False(t, store.CheckAndRecord("sess-1", "corr-1", now, now))
}

func TestDistinctCorrelationIDsDoNotCollide(t *testing.T) {
	store, mr := newTestStore(t, time.Minute)
	defer mr.Close()

	now := time.Unix(1700000000, 0)
	assert.False(t, store.CheckAndRecord("sess-1", "corr-1", now, now))
	assert.False(t, store.CheckAndRecord("sess-1", "corr-2", now, now))
}
