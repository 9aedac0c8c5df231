// Package ratelimit implements the per-session, monotonic-clock token
// bucket described alongside the gateway's dispatch path: each session_id
// gets its own bucket, refilled at a configured rate and capped at a
// burst size, with the whole session keyspace bounded so a flood of
// distinct session_ids can't grow it unboundedly.
package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxSessions bounds the number of distinct session_id buckets
// tracked at once; beyond it, the oldest 10% (by last use) are evicted.
const DefaultMaxSessions = 10000

// DefaultEvictFraction is the fraction of buckets dropped on overflow.
const DefaultEvictFraction = 0.10

// Clock abstracts wall-clock reads so tests can drive the token bucket
// deterministically; golang.org/x/time/rate.Limiter accepts an explicit
// timestamp on every call, so no fake is needed inside rate itself.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Config configures a Limiter's token buckets.
type Config struct {
	RequestsPerSecond float64
	BurstSize         int
	MaxSessions       int
	Clock             Clock
}

// Limiter is a per-session token bucket keyed by session_id, with
// capacity-bounded eviction of the least-recently-used sessions.
type Limiter struct {
	mu sync.Mutex

	rps         rate.Limit
	burst       int
	maxSessions int
	evictN      int
	clock       Clock

	entries map[string]*list.Element
	order   *list.List
}

type bucketElem struct {
	sessionID string
	limiter   *rate.Limiter
	lastUsed  time.Time
}

// New creates a Limiter from cfg, filling in defaults for zero fields.
func New(cfg Config) *Limiter {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	evictN := int(float64(maxSessions) * DefaultEvictFraction)
	if evictN < 1 {
		evictN = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &Limiter{
		rps:         rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.BurstSize,
		maxSessions: maxSessions,
		evictN:      evictN,
		clock:       clock,
		entries:     make(map[string]*list.Element),
		order:       list.New(),
	}
}

// Allow finds or creates sessionID's bucket, refills it for elapsed time,
// and consumes one token if available.
func (l *Limiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	el, ok := l.entries[sessionID]
	var b *bucketElem
	if ok {
		b = el.Value.(*bucketElem)
		l.order.MoveToFront(el)
	} else {
		b = &bucketElem{sessionID: sessionID, limiter: rate.NewLimiter(l.rps, l.burst)}
		l.entries[sessionID] = l.order.PushFront(b)
		l.evictIfNeededLocked()
	}
	b.lastUsed = now
	return b.limiter.AllowN(now, 1)
}

// evictIfNeededLocked drops the oldest evictN buckets once the session
// count exceeds maxSessions. Must be called with l.mu held.
func (l *Limiter) evictIfNeededLocked() {
	if len(l.entries) <= l.maxSessions {
		return
	}
	for i := 0; i < l.evictN; i++ {
		back := l.order.Back()
		if back == nil {
			return
		}
		b := back.Value.(*bucketElem)
		delete(l.entries, b.sessionID)
		l.order.Remove(back)
	}
}

// Count reports the number of tracked session buckets.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Remove drops sessionID's bucket immediately, e.g. on session end.
func (l *Limiter) Remove(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.entries[sessionID]; ok {
		l.order.Remove(el)
		delete(l.entries, sessionID)
	}
}
