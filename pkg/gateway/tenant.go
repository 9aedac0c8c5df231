package gateway

import (
	"github.com/stacklok/talos/pkg/capability"
	"github.com/stacklok/talos/pkg/ratelimit"
)

// TenantConfig is what RegisterTenant needs to assign a tenant its own
// CapabilityManager, RateLimiter, optional tool allowlist, and
// max-concurrent-sessions cap.
type TenantConfig struct {
	ID                    string
	Manager               *capability.Manager
	RateLimit             ratelimit.Config
	AllowedTools          []string // nil/empty means "all tools allowed"
	MaxConcurrentSessions int
}

// tenant is the gateway's internal per-tenant handle, built from a
// TenantConfig at RegisterTenant time.
type tenant struct {
	id                    string
	manager               *capability.Manager
	limiter               *ratelimit.Limiter
	allowedTools          map[string]struct{} // nil means "all tools allowed"
	maxConcurrentSessions int
}

func newTenant(cfg TenantConfig) *tenant {
	t := &tenant{
		id:                    cfg.ID,
		manager:               cfg.Manager,
		limiter:               ratelimit.New(cfg.RateLimit),
		maxConcurrentSessions: cfg.MaxConcurrentSessions,
	}
	if len(cfg.AllowedTools) > 0 {
		t.allowedTools = make(map[string]struct{}, len(cfg.AllowedTools))
		for _, name := range cfg.AllowedTools {
			t.allowedTools[name] = struct{}{}
		}
	}
	return t
}

// toolAllowed reports whether tool passes this tenant's allowlist. An
// unset allowlist (nil) permits every tool.
func (t *tenant) toolAllowed(tool string) bool {
	if t.allowedTools == nil {
		return true
	}
	_, ok := t.allowedTools[tool]
	return ok
}
