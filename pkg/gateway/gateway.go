// Package gateway implements the multi-tenant authorization dispatcher:
// one Gateway per process, one CapabilityManager and RateLimiter per
// tenant, and a single Authorize call implementing the seven-step
// dispatch algorithm. It exposes Authorize as a plain Go API — wiring it
// to a transport (HTTP, stdio, gRPC) is a caller's concern, not this
// package's.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/talos/pkg/audit"
	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/logger"
	"github.com/stacklok/talos/pkg/telemetry"
)

// Clock abstracts wall-clock reads for deterministic latency tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Gateway is the multi-tenant dispatcher. The zero value is not usable;
// construct with New.
type Gateway struct {
	mu      sync.RWMutex
	state   State
	tenants map[string]*tenant

	sink    audit.Sink
	metrics *telemetry.Metrics
	clock   Clock
	idGen   func() string
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithAuditSink sets the sink every authorize() decision is appended to.
// Defaults to audit.NewMemorySink().
func WithAuditSink(sink audit.Sink) Option {
	return func(g *Gateway) { g.sink = sink }
}

// WithMetrics attaches a telemetry.Metrics instance. If unset, metrics
// calls are skipped.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithClock overrides the wall clock used for latency measurement.
func WithClock(c Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// New creates a Gateway in the Stopped state. Call Start before
// Authorize; tenants can be registered before or after Start.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		state:   StateStopped,
		tenants: make(map[string]*tenant),
		sink:    audit.NewMemorySink(),
		clock:   systemClock{},
		idGen:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Lifecycle returns the gateway's current State.
func (g *Gateway) Lifecycle() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Start transitions the gateway Stopped → Starting → Running.
func (g *Gateway) Start(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateStopped {
		return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("cannot start gateway in state %s", g.state), nil)
	}
	g.state = StateStarting
	g.state = StateRunning
	logger.Info("gateway: started")
	return nil
}

// Shutdown transitions Running → Stopping → Stopped. It does not tear
// down tenant CapabilityManagers or their caches; callers that need that
// should drop their Gateway reference after Shutdown returns.
func (g *Gateway) Shutdown(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateRunning {
		return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("cannot shut down gateway in state %s", g.state), nil)
	}
	g.state = StateStopping
	g.state = StateStopped
	logger.Info("gateway: stopped")
	return nil
}

// RegisterTenant assigns cfg's CapabilityManager, RateLimiter, tool
// allowlist, and session cap to a new tenant. Duplicate tenant IDs fail.
func (g *Gateway) RegisterTenant(cfg TenantConfig) error {
	if cfg.ID == "" {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "tenant id is required", nil)
	}
	if cfg.Manager == nil {
		return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q requires a CapabilityManager", cfg.ID), nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tenants[cfg.ID]; exists {
		return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q already registered", cfg.ID), nil)
	}
	g.tenants[cfg.ID] = newTenant(cfg)
	return nil
}

// UnregisterTenant removes a tenant, so one can be dropped without a
// process restart. Added for symmetry with RegisterTenant.
func (g *Gateway) UnregisterTenant(tenantID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.tenants[tenantID]; !exists {
		return talerrors.NewError(talerrors.ErrNotFound, fmt.Sprintf("tenant %q not registered", tenantID), nil)
	}
	delete(g.tenants, tenantID)
	return nil
}

func (g *Gateway) getTenant(tenantID string) (*tenant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tenants[tenantID]
	return t, ok
}

// Authorize runs the gateway's dispatch: reject if not Running, resolve
// the tenant, check the rate limiter, check the tool allowlist, run the
// session-cached fast path (falling back to the slow verify path on a
// cache miss when req.Capability is presented), emit an audit event, and
// return the response with end-to-end latency.
func (g *Gateway) Authorize(ctx context.Context, req Request) (Response, error) {
	start := g.clock.Now()

	if g.Lifecycle() != StateRunning {
		return Response{}, talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("gateway is not Running (state=%s)", g.Lifecycle()), nil)
	}

	t, ok := g.getTenant(req.TenantID)
	if !ok {
		resp := deniedResponse(talerrors.DenialUnknownTenant, fmt.Sprintf("tenant %q not registered", req.TenantID))
		g.finish(ctx, req, resp, start)
		return resp, nil
	}

	if !t.limiter.Allow(req.SessionID) {
		resp := deniedResponse(talerrors.DenialRateLimited, "rate limit exceeded")
		if g.metrics != nil {
			g.metrics.RecordRateLimitRejection(ctx, req.TenantID)
		}
		g.finish(ctx, req, resp, start)
		return resp, nil
	}

	if !t.toolAllowed(req.Tool) {
		resp := deniedResponse(talerrors.DenialToolNotAllowed, fmt.Sprintf("tool %q not in tenant allowlist", req.Tool))
		g.finish(ctx, req, resp, start)
		return resp, nil
	}

	resp := g.authorizeWithManager(t, req)
	g.finish(ctx, req, resp, start)
	return resp, nil
}

// authorizeWithManager runs the session-cached fast path and, on a cache
// miss with an inline capability presented, falls back to the slow
// verify-and-cache path.
func (g *Gateway) authorizeWithManager(t *tenant, req Request) Response {
	result := t.manager.AuthorizeFast(req.SessionID, req.Tool, req.Method, req.Params)

	cacheMiss := !result.Allowed && !result.Cached && result.Reason == talerrors.DenialNoCapability
	if cacheMiss && req.Capability != nil {
		if t.maxConcurrentSessions > 0 && t.manager.SessionCount() >= t.maxConcurrentSessions {
			return deniedResponse(talerrors.DenialSessionLimitExceeded, "tenant session limit exceeded")
		}
		result = t.manager.Authorize(req.Capability, req.Tool, req.Method)
		if result.Allowed {
			if err := t.manager.CacheSession(req.SessionID, req.Capability); err != nil {
				logger.Errorw("gateway: failed to cache session after slow-path authorize", "error", err, "session_id", req.SessionID)
			}
		}
	}

	return responseFromResult(result)
}

// finish emits the audit event and metrics for a completed Authorize
// call, measuring latency end-to-end from the call's start per step 7.
func (g *Gateway) finish(ctx context.Context, req Request, resp Response, start time.Time) {
	latencyUs := g.clock.Now().Sub(start).Microseconds()
	resp.LatencyUs = latencyUs

	if g.metrics != nil {
		g.metrics.RecordAuthorize(ctx, latencyUs, resp.Cached, resp.Allowed)
		if !resp.Allowed {
			g.metrics.RecordDenial(ctx, resp.Reason.String())
		}
	}

	event := &audit.Event{
		EventID:      g.idGen(),
		EventType:    auditEventType(resp),
		Timestamp:    g.clock.Now().UTC(),
		AgentID:      auditAgentID(req),
		Tool:         req.Tool,
		Method:       req.Method,
		CapabilityID: resp.CapabilityID,
		ResultCode:   auditResultCode(resp),
		LatencyUs:    latencyUs,
		SessionID:    req.SessionID,
		Metadata:     map[string]any{"tenant_id": req.TenantID},
	}
	if !resp.Allowed {
		event.DenialReason = resp.Reason.String()
	}

	if err := g.sink.Append(ctx, event); err != nil {
		logger.Errorw("gateway: failed to append audit event", "error", err, "event_id", event.EventID)
	}
}

func auditEventType(resp Response) audit.EventType {
	if resp.Allowed {
		return audit.EventAuthorization
	}
	return audit.EventDenial
}

func auditResultCode(resp Response) string {
	if resp.Allowed {
		return "ALLOW"
	}
	return "DENY"
}

func auditAgentID(req Request) string {
	if req.AgentID != "" {
		return req.AgentID
	}
	if req.Capability != nil {
		return req.Capability.Subject
	}
	return req.TenantID
}
