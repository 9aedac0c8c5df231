package config

import (
	"fmt"

	talerrors "github.com/stacklok/talos/pkg/errors"
)

// Validator checks a loaded Config for internal consistency, called
// explicitly by the caller after Load rather than folded into
// unmarshaling.
type Validator struct{}

// NewValidator creates a Validator. It takes no arguments: gateway config
// has no network-dependent field (e.g. an OIDC discovery document) that
// would need an injected HTTP client to validate.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports the first configuration error found, in field order.
func (*Validator) Validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "listen_addr is required", nil)
	}
	if len(cfg.Tenants) == 0 {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "at least one tenant is required", nil)
	}

	seen := make(map[string]struct{}, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		if t.ID == "" {
			return talerrors.NewError(talerrors.ErrInvalidArgument, "tenant with empty id", nil)
		}
		if _, dup := seen[t.ID]; dup {
			return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("duplicate tenant id %q", t.ID), nil)
		}
		seen[t.ID] = struct{}{}

		if t.SignerSeedEnv == "" {
			return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q missing signer_seed_env", t.ID), nil)
		}
		if t.RateLimit.RequestsPerSecond <= 0 {
			return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q rate_limit.requests_per_second must be positive", t.ID), nil)
		}
		if t.RateLimit.BurstSize <= 0 {
			return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q rate_limit.burst_size must be positive", t.ID), nil)
		}
		if t.MaxConcurrentSessions <= 0 {
			return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q max_concurrent_sessions must be positive", t.ID), nil)
		}
	}

	if cfg.Replay.Backend != "" && cfg.Replay.Backend != "memory" && cfg.Replay.Backend != "redis" {
		return talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("replay.backend %q must be \"memory\" or \"redis\"", cfg.Replay.Backend), nil)
	}
	if cfg.Replay.Backend == "redis" && cfg.Replay.RedisAddr == "" {
		return talerrors.NewError(talerrors.ErrInvalidArgument, "replay.redis_addr is required when replay.backend is \"redis\"", nil)
	}

	return nil
}
