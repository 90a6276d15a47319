// Package config loads tabkeep settings from TABKEEP_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration of the CLI.
type Config struct {
	DataPath  string `env:"TABKEEP_DATA_PATH"  envDefault:"tabkeep.db"`
	Backend   string `env:"TABKEEP_BACKEND"    envDefault:"sqlite"`
	RedisAddr string `env:"TABKEEP_REDIS_ADDR" envDefault:"localhost:6379"`

	CacheTier     string        `env:"TABKEEP_CACHE_TIER"     envDefault:"memory"`
	CacheTTL      time.Duration `env:"TABKEEP_CACHE_TTL"      envDefault:"5m"`
	EncryptedKeys []string      `env:"TABKEEP_ENCRYPTED_KEYS" envSeparator:","`
	ValueFormat   string        `env:"TABKEEP_VALUE_FORMAT"   envDefault:"json"`

	RemoteURL     string        `env:"TABKEEP_REMOTE_URL"`
	RemoteToken   string        `env:"TABKEEP_REMOTE_TOKEN"`
	HealthTimeout time.Duration `env:"TABKEEP_HEALTH_TIMEOUT" envDefault:"3s"`

	SyncDebounce        time.Duration `env:"TABKEEP_SYNC_DEBOUNCE"         envDefault:"5s"`
	SyncMinInterval     time.Duration `env:"TABKEEP_SYNC_MIN_INTERVAL"     envDefault:"15m"`
	MemoryCheckInterval time.Duration `env:"TABKEEP_MEMORY_CHECK_INTERVAL" envDefault:"1m"`
	MemoryThresholdMB   uint64        `env:"TABKEEP_MEMORY_THRESHOLD_MB"   envDefault:"150"`

	KeyringService string `env:"TABKEEP_KEYRING_SERVICE" envDefault:"tabkeep"`
	KeyringAccount string `env:"TABKEEP_KEYRING_ACCOUNT" envDefault:"master-key"`

	LogLevel     string `env:"TABKEEP_LOG_LEVEL"  envDefault:"info"`
	LogFile      string `env:"TABKEEP_LOG_FILE"`
	OTelEndpoint string `env:"TABKEEP_OTEL_ENDPOINT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.EncryptedKeys = trimCSV(cfg.EncryptedKeys)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects unknown enum values.
func (c Config) Validate() error {
	var errs []error
	check := func(name, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %q is not one of %s", name, v, strings.Join(allowed, ", ")))
	}
	check("TABKEEP_BACKEND", c.Backend, "sqlite", "memory", "redis")
	check("TABKEEP_CACHE_TIER", c.CacheTier, "memory", "ristretto", "bigcache")
	check("TABKEEP_VALUE_FORMAT", c.ValueFormat, "json", "cbor", "msgpack")
	check("TABKEEP_LOG_LEVEL", strings.ToLower(c.LogLevel), "debug", "info", "warn", "error")
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("TABKEEP_CACHE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// MemoryThreshold is MemoryThresholdMB in bytes.
func (c Config) MemoryThreshold() uint64 { return c.MemoryThresholdMB << 20 }

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
