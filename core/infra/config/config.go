package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/cordum/cordum-packs/core/packs"
)

// Config holds runtime configuration for the packs service.
type Config struct {
	NatsURL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	UseJetStream bool   `env:"NATS_USE_JETSTREAM"`
	NatsTLS      NatsTLS

	RedisURL          string   `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisClusterAddrs []string `env:"REDIS_CLUSTER_ADDRESSES" envSeparator:","`
	RedisTLS          RedisTLS

	HTTPAddr    string `env:"PACKS_HTTP_ADDR" envDefault:":8081"`
	MetricsAddr string `env:"PACKS_METRICS_ADDR" envDefault:":9092"`
	PolicyPath  string `env:"PACKS_POLICY_PATH"`
	// APIKeys is empty to disable authentication.
	APIKeys []string `env:"PACKS_API_KEYS" envSeparator:","`

	Protected       []string      `env:"PACKS_PROTECTED" envSeparator:","`
	RefPattern      string        `env:"PACKS_REF_PATTERN"`
	FailFastKinds   []string      `env:"PACKS_FAIL_FAST_KINDS" envSeparator:","`
	RegisterTimeout time.Duration `env:"PACKS_REGISTER_TIMEOUT" envDefault:"30s"`
	LockTTL         time.Duration `env:"PACKS_LOCK_TTL" envDefault:"60s"`
}

// RedisTLS mirrors the REDIS_TLS_* variables.
type RedisTLS struct {
	CA         string `env:"REDIS_TLS_CA"`
	Cert       string `env:"REDIS_TLS_CERT"`
	Key        string `env:"REDIS_TLS_KEY"`
	ServerName string `env:"REDIS_TLS_SERVER_NAME"`
	Insecure   bool   `env:"REDIS_TLS_INSECURE"`
}

// NatsTLS mirrors the NATS_TLS_* variables.
type NatsTLS struct {
	CA       string `env:"NATS_TLS_CA"`
	Cert     string `env:"NATS_TLS_CERT"`
	Key      string `env:"NATS_TLS_KEY"`
	Insecure bool   `env:"NATS_TLS_INSECURE"`
}

// Load reads configuration from the environment, applies the optional policy file and
// validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if len(cfg.Protected) == 0 {
		cfg.Protected = append([]string(nil), packs.DefaultProtectedPacks...)
	}
	policy, err := LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyPolicy(policy)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyPolicy overlays non-empty policy fields.
func (c *Config) ApplyPolicy(p *Policy) {
	if p == nil {
		return
	}
	if len(p.Protected) > 0 {
		c.Protected = append([]string(nil), p.Protected...)
	}
	if len(p.FailFastKinds) > 0 {
		c.FailFastKinds = append([]string(nil), p.FailFastKinds...)
	}
	if p.RefPattern != "" {
		c.RefPattern = p.RefPattern
	}
	if p.RegisterTimeout > 0 {
		c.RegisterTimeout = p.RegisterTimeout
	}
}

// Validate checks values that would otherwise fail at first use.
func (c *Config) Validate() error {
	if _, err := packs.NewDeriver(c.RefPattern); err != nil {
		return fmt.Errorf("PACKS_REF_PATTERN: %w", err)
	}
	if _, err := packs.ParseKinds(c.FailFastKinds); err != nil {
		return fmt.Errorf("PACKS_FAIL_FAST_KINDS: %w", err)
	}
	if c.RegisterTimeout <= 0 {
		return fmt.Errorf("PACKS_REGISTER_TIMEOUT must be positive")
	}
	if c.LockTTL < 0 {
		return fmt.Errorf("PACKS_LOCK_TTL must not be negative")
	}
	return nil
}

// FailFast returns the configured fail-fast kinds, or nil to keep the defaults.
func (c *Config) FailFast() packs.KindSet {
	if len(c.FailFastKinds) == 0 {
		return nil
	}
	set, _ := packs.ParseKinds(c.FailFastKinds)
	return set
}
