// Package config loads gateway and per-tenant configuration from YAML,
// the way pkg/vmcp/config loads vMCP configuration: a struct tree
// unmarshaled with gopkg.in/yaml.v3, an env.Reader-driven overlay for
// secrets that shouldn't live in the file, and an explicit Validator
// called after Load rather than validation folded into unmarshaling.
package config

import (
	"time"

	"github.com/stacklok/talos/pkg/capability"
	"github.com/stacklok/talos/pkg/frame"
	"github.com/stacklok/talos/pkg/ratelimit"
)

// Config is the top-level gateway configuration.
type Config struct {
	ListenAddr string         `yaml:"listen_addr"`
	Tenants    []TenantConfig `yaml:"tenants"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	Replay     ReplayConfig   `yaml:"replay"`
}

// TenantConfig configures one tenant's capability manager, rate limiter,
// tool allowlist, and session cap, per RegisterTenant's requirements.
type TenantConfig struct {
	ID string `yaml:"id"`

	// SignerSeedEnv names the environment variable holding the tenant's
	// 32-byte Ed25519 seed, hex-encoded. Never stored in the YAML file
	// itself.
	SignerSeedEnv string `yaml:"signer_seed_env"`

	RateLimit        RateLimitConfig `yaml:"rate_limit"`
	ToolAllowlist    []string        `yaml:"tool_allowlist"`
	MaxConcurrentSessions int        `yaml:"max_concurrent_sessions"`
}

// RateLimitConfig configures a tenant's per-session token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
	MaxSessions       int     `yaml:"max_sessions"`
}

// ToRatelimitConfig converts to ratelimit.Config, filling in spec defaults
// for fields the operator left zero.
func (r RateLimitConfig) ToRatelimitConfig() ratelimit.Config {
	maxSessions := r.MaxSessions
	if maxSessions == 0 {
		maxSessions = ratelimit.DefaultMaxSessions
	}
	return ratelimit.Config{
		RequestsPerSecond: r.RequestsPerSecond,
		BurstSize:         r.BurstSize,
		MaxSessions:       maxSessions,
	}
}

// TelemetryConfig configures the gateway's OTel/Prometheus wiring.
type TelemetryConfig struct {
	ServiceName                 string            `yaml:"service_name"`
	ServiceVersion               string            `yaml:"service_version"`
	OTLPEndpoint                 string            `yaml:"otlp_endpoint"`
	Insecure                     bool              `yaml:"insecure"`
	Headers                      map[string]string `yaml:"headers"`
	TracingEnabled               bool              `yaml:"tracing_enabled"`
	MetricsEnabled                bool              `yaml:"metrics_enabled"`
	SamplingRate                  float64          `yaml:"sampling_rate"`
	EnablePrometheusMetricsPath   bool             `yaml:"enable_prometheus_metrics_path"`
}

// ReplayConfig configures the replay-defense window and its backing store.
type ReplayConfig struct {
	// WindowSeconds defaults to frame.ReplayWindow when zero.
	WindowSeconds int `yaml:"window_seconds"`

	// Backend is "memory" (default, process-local) or "redis" (shared
	// across a gateway cluster).
	Backend    string `yaml:"backend"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

// Window returns the configured replay window, or frame.ReplayWindow.
func (r ReplayConfig) Window() time.Duration {
	if r.WindowSeconds == 0 {
		return frame.ReplayWindow
	}
	return time.Duration(r.WindowSeconds) * time.Second
}

// ClockSkewSeconds, SessionCacheMax and SessionCacheEvictN re-export the
// capability package's named bounds, so a Validator or operator CLI can
// report the effective bounds without importing pkg/capability directly.
const (
	ClockSkewSeconds  = capability.ClockSkew
	SessionCacheMax   = capability.SessionCacheMax
	SessionCacheEvictN = capability.SessionCacheEvictN
)
