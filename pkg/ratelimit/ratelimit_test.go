package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestAllowConsumesBurstThenBlocks(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerSecond: 1, BurstSize: 2, Clock: clock})

	assert.True(t, l.Allow("sess-1"))
	assert.True(t, l.Allow("sess-1"))
	assert.False(t, l.Allow("sess-1"))
}

func TestAllowRefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, Clock: clock})

	require.True(t, l.Allow("sess-1"))
	require.False(t, l.Allow("sess-1"))

	clock.now = clock.now.Add(time.Second)
	assert.True(t, l.Allow("sess-1"))
}

func TestSeparateSessionsHaveIndependentBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, Clock: clock})

	assert.True(t, l.Allow("sess-1"))
	assert.True(t, l.Allow("sess-2"))
	assert.False(t, l.Allow("sess-1"))
}

func TestOverflowEvictsOldestTenPercent(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, MaxSessions: 10, Clock: clock})

	for i := 0; i < 10; i++ {
		l.Allow(sessionName(i))
	}
	assert.Equal(t, 10, l.Count())

	l.Allow(sessionName(10))
	assert.Equal(t, 10, l.Count())
	assert.False(t, hasSession(l, sessionName(0)))
}

func hasSession(l *Limiter, id string) bool {
	_, ok := l.entries[id]
	return ok
}

func sessionName(i int) string {
	return "sess-" + string(rune('a'+i))
}

func TestRemoveDropsBucket(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := New(Config{RequestsPerSecond: 1, BurstSize: 1, Clock: clock})
	l.Allow("sess-1")
	require.Equal(t, 1, l.Count())
	l.Remove("sess-1")
	assert.Equal(t, 0, l.Count())
}
