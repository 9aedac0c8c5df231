package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stacklok/talos/pkg/env"
	talerrors "github.com/stacklok/talos/pkg/errors"
	"github.com/stacklok/talos/pkg/identity"
)

// Loader reads a Config from some source.
type Loader interface {
	Load() (*Config, error)
}

// YAMLLoader reads Config from a YAML file on disk. Load does not read
// environment variables: the per-tenant signer seeds named by each
// TenantConfig.SignerSeedEnv are read separately by ResolveTenantSigner,
// through an injected env.Reader so tests don't need to mutate the real
// process environment.
type YAMLLoader struct {
	path   string
	reader env.Reader
}

// NewYAMLLoader creates a loader for path. reader is stored on the loader;
// Load does not consult it.
func NewYAMLLoader(path string, reader env.Reader) *YAMLLoader {
	return &YAMLLoader{path: path, reader: reader}
}

// Load reads and parses the YAML file at l.path.
func (l *YAMLLoader) Load() (*Config, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("reading config file %s", l.path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, "parsing config YAML", err)
	}

	return &cfg, nil
}

// ResolveTenantSigner reads t.SignerSeedEnv through reader, hex-decodes
// it, and derives the tenant's identity.KeyPair. Kept separate from Load
// so a caller (or test) can supply the seed without writing it to a file.
func ResolveTenantSigner(t TenantConfig, reader env.Reader) (*identity.KeyPair, error) {
	if t.SignerSeedEnv == "" {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("tenant %q has no signer_seed_env configured", t.ID), nil)
	}
	hexSeed := reader.Getenv(t.SignerSeedEnv)
	if hexSeed == "" {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("env var %q is unset or empty", t.SignerSeedEnv), nil)
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, talerrors.NewError(talerrors.ErrInvalidArgument, fmt.Sprintf("env var %q is not valid hex", t.SignerSeedEnv), err)
	}
	return identity.KeyPairFromSeed(seed)
}

var _ Loader = (*YAMLLoader)(nil)
