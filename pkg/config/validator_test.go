package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		ListenAddr: "127.0.0.1:8443",
		Tenants: []TenantConfig{
			{
				ID:            "tenant-a",
				SignerSeedEnv: "TENANT_A_SEED",
				RateLimit: RateLimitConfig{
					RequestsPerSecond: 50,
					BurstSize:         100,
				},
				MaxConcurrentSessions: 10,
			},
		},
	}
}

func TestValidatorAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, NewValidator().Validate(validConfig()))
}

func TestValidatorRejectsMissingListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.ListenAddr = ""
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsNoTenants(t *testing.T) {
	cfg := validConfig()
	cfg.Tenants = nil
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsDuplicateTenantIDs(t *testing.T) {
	cfg := validConfig()
	cfg.Tenants = append(cfg.Tenants, cfg.Tenants[0])
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsMissingSignerSeedEnv(t *testing.T) {
	cfg := validConfig()
	cfg.Tenants[0].SignerSeedEnv = ""
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsNonPositiveRateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Tenants[0].RateLimit.RequestsPerSecond = 0
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsRedisBackendWithoutAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Replay.Backend = "redis"
	assert.Error(t, NewValidator().Validate(cfg))
}

func TestValidatorAcceptsRedisBackendWithAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Replay.Backend = "redis"
	cfg.Replay.RedisAddr = "localhost:6379"
	assert.NoError(t, NewValidator().Validate(cfg))
}

func TestValidatorRejectsUnknownReplayBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Replay.Backend = "memcached"
	assert.Error(t, NewValidator().Validate(cfg))
}
