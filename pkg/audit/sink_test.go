package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(id, eventType, agentID, sessionID string) *Event {
	return &Event{
		EventID:    id,
		EventType:  EventType(eventType),
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		AgentID:    agentID,
		SessionID:  sessionID,
		ResultCode: "ALLOW",
	}
}

func TestMemorySinkAppendRejectsInvalidEvent(t *testing.T) {
	sink := NewMemorySink()
	err := sink.Append(context.Background(), &Event{})
	assert.Error(t, err)
	assert.Empty(t, sink.All())
}

func TestMemorySinkAppendAndAllPreservesOrder(t *testing.T) {
	sink := NewMemorySink()
	e1 := newEvent("evt-1", "AUTHORIZATION", "agent-a", "sess-1")
	e2 := newEvent("evt-2", "DENIAL", "agent-b", "sess-2")

	require.NoError(t, sink.Append(context.Background(), e1))
	require.NoError(t, sink.Append(context.Background(), e2))

	all := sink.All()
	require.Len(t, all, 2)
	assert.Equal(t, "evt-1", all[0].EventID)
	assert.Equal(t, "evt-2", all[1].EventID)
}

func TestMemorySinkBySession(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Append(context.Background(), newEvent("evt-1", "AUTHORIZATION", "agent-a", "sess-1")))
	require.NoError(t, sink.Append(context.Background(), newEvent("evt-2", "DENIAL", "agent-a", "sess-2")))

	found, err := sink.BySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "evt-1", found[0].EventID)
}

func TestMemorySinkByAgent(t *testing.T) {
	sink := NewMemorySink()
	require.NoError(t, sink.Append(context.Background(), newEvent("evt-1", "AUTHORIZATION", "agent-a", "sess-1")))
	require.NoError(t, sink.Append(context.Background(), newEvent("evt-2", "DENIAL", "agent-b", "sess-2")))
	require.NoError(t, sink.Append(context.Background(), newEvent("evt-3", "REVOCATION", "agent-a", "sess-3")))

	found, err := sink.ByAgent(context.Background(), "agent-a")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "evt-1", found[0].EventID)
	assert.Equal(t, "evt-3", found[1].EventID)
}

func TestLogSinkAppendRejectsInvalidEvent(t *testing.T) {
	sink := NewLogSink()
	err := sink.Append(context.Background(), &Event{})
	assert.Error(t, err)
}

func TestLogSinkAppendValidEventSucceeds(t *testing.T) {
	sink := NewLogSink()
	err := sink.Append(context.Background(), newEvent("evt-1", "SESSION_START", "agent-a", "sess-1"))
	assert.NoError(t, err)
}

// flakySink fails the first failUntil calls to Append, then delegates.
type flakySink struct {
	mu        sync.Mutex
	calls     int
	failUntil int
	next      Sink
}

func (s *flakySink) Append(ctx context.Context, e *Event) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if call <= s.failUntil {
		return errors.New("transient write failure")
	}
	return s.next.Append(ctx, e)
}

func TestRetryingSinkRetriesUntilSuccess(t *testing.T) {
	mem := NewMemorySink()
	flaky := &flakySink{failUntil: 2, next: mem}
	sink := NewRetryingSink(flaky, 5)

	err := sink.Append(context.Background(), newEvent("evt-1", "AUTHORIZATION", "agent-a", "sess-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Len(t, mem.All(), 1)
}

func TestRetryingSinkGivesUpAfterMaxTries(t *testing.T) {
	flaky := &flakySink{failUntil: 100, next: NewMemorySink()}
	sink := NewRetryingSink(flaky, 3)

	err := sink.Append(context.Background(), newEvent("evt-1", "AUTHORIZATION", "agent-a", "sess-1"))
	assert.Error(t, err)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingSinkRejectsInvalidEventWithoutRetrying(t *testing.T) {
	flaky := &flakySink{failUntil: 0, next: NewMemorySink()}
	sink := NewRetryingSink(flaky, 5)

	err := sink.Append(context.Background(), &Event{})
	assert.Error(t, err)
	assert.Equal(t, 0, flaky.calls)
}
