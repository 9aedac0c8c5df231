package audit

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/talos/pkg/logger"
)

//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks -source=sink.go Sink

// Sink is the append (and optionally query) collaborator an Event is
// handed to once a gateway decision is made. A durable store, a SIEM
// forwarder, or a blockchain-anchored log are all valid Sinks; this
// package only ships the two reference implementations below (MemorySink,
// LogSink) and RetryingSink, a wrapper around another Sink.
type Sink interface {
	Append(ctx context.Context, e *Event) error
}

// QueryableSink is a Sink that can also answer "what happened", for a
// sink backed by something that supports lookups (tests, an operator
// CLI's local inspection, a small in-memory deployment). Not every Sink
// needs to support it.
type QueryableSink interface {
	Sink
	BySession(ctx context.Context, sessionID string) ([]*Event, error)
	ByAgent(ctx context.Context, agentID string) ([]*Event, error)
}

// MemorySink is an in-process Sink, used in tests and single-instance
// deployments that don't need durability across restarts.
type MemorySink struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append validates and records e.
func (s *MemorySink) Append(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// All returns every recorded event, oldest first.
func (s *MemorySink) All() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// BySession returns every event with the given session_id, in append order.
func (s *MemorySink) BySession(_ context.Context, sessionID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByAgent returns every event with the given agent_id, in append order.
func (s *MemorySink) ByAgent(_ context.Context, agentID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events {
		if e.AgentID == agentID {
			out = append(out, e)
		}
	}
	return out, nil
}

var (
	_ Sink          = (*MemorySink)(nil)
	_ QueryableSink = (*MemorySink)(nil)
)

// LogSink appends each event as a single structured log line, for
// deployments where the audit trail is whatever the surrounding log
// aggregation pipeline already collects. It never fails a caller's
// authorize() path on a logging error: logger.Errorw records the
// problem and Append still returns nil, since losing one audit line
// to a logging hiccup shouldn't also fail the request it documents.
type LogSink struct{}

// NewLogSink creates a LogSink writing to the package-wide logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Append implements Sink.
func (s *LogSink) Append(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(e)
	if err != nil {
		logger.Errorw("audit: failed to marshal event", "error", err, "event_id", e.EventID)
		return nil
	}
	logger.Info(string(raw))
	return nil
}

var _ Sink = (*LogSink)(nil)

// RetryingSink wraps another Sink with exponential backoff, for a
// network-backed sink (a remote collector, a SIEM ingest endpoint)
// whose writes fail transiently. Validation errors are not retried:
// a malformed event will never succeed no matter how many attempts.
type RetryingSink struct {
	next     Sink
	maxTries uint
}

// NewRetryingSink wraps next, retrying a failed Append up to maxTries
// times with exponential backoff before giving up.
func NewRetryingSink(next Sink, maxTries uint) *RetryingSink {
	return &RetryingSink{next: next, maxTries: maxTries}
}

// Append implements Sink.
func (s *RetryingSink) Append(ctx context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.next.Append(ctx, e)
	}, backoff.WithMaxTries(s.maxTries))
	return err
}

var _ Sink = (*RetryingSink)(nil)
