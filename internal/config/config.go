// Package config loads runtime settings for the typedagent CLI.
//
// Precedence, highest first: TYPEDAGENT_* environment variables, the YAML config file, defaults.
//
//	TYPEDAGENT_MODEL                         -> model
//	TYPEDAGENT_LOG_LEVEL                     -> log.level
//	TYPEDAGENT_RATE_LIMIT_REQUESTS_PER_SECOND -> rate_limit.requests_per_second
//	TYPEDAGENT_RETRY_MAX_RETRIES             -> retry.max_retries
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"golang.org/x/time/rate"

	"github.com/danshapiro/typedagent/internal/llm"
	"github.com/danshapiro/typedagent/internal/logging"
	"github.com/danshapiro/typedagent/internal/providerspec"
)

const (
	EnvPrefix = "TYPEDAGENT_"

	maxConfigFileSize = 1024 * 1024
)

type Config struct {
	Provider  string          `koanf:"provider"`
	Model     string          `koanf:"model"`
	Timeout   time.Duration   `koanf:"timeout"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Retry     RetryConfig     `koanf:"retry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RateLimitConfig bounds model calls made by this process. Zero requests per second disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// RetryConfig controls how transient model errors (rate limits, 5xx, per-call timeouts) are
// retried below the agent. Zero max_retries disables retrying.
type RetryConfig struct {
	MaxRetries    int           `koanf:"max_retries"`
	InitialDelay  time.Duration `koanf:"initial_delay"`
	BackoffFactor float64       `koanf:"backoff_factor"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	PerTryTimeout time.Duration `koanf:"per_try_timeout"`
}

var defaults = map[string]any{
	"provider":                       "anthropic",
	"model":                          "claude-sonnet-4-5",
	"timeout":                        "5m",
	"log.level":                      "info",
	"log.format":                     "json",
	"rate_limit.requests_per_second": 0.0,
	"rate_limit.burst":               1,
	"retry.max_retries":              2,
	"retry.initial_delay":            "200ms",
	"retry.backoff_factor":           2.0,
	"retry.max_delay":                "60s",
	"retry.per_try_timeout":          "0s",
}

// sections lists the nested keys whose names contain underscores, longest first, so env
// names can be split unambiguously.
var sections = []string{"rate_limit", "retry", "log"}

// Load reads defaults, then path when it is non-empty, then the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, fmt.Errorf("config default %s: %w", key, err)
		}
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Provider = providerspec.CanonicalProviderKey(cfg.Provider)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// envKey maps TYPEDAGENT_RATE_LIMIT_BURST to rate_limit.burst.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	for _, sec := range sections {
		if strings.HasPrefix(key, sec+"_") {
			return sec + "." + strings.TrimPrefix(key, sec+"_")
		}
	}
	return key
}

func (c *Config) Validate() error {
	if c.Provider != "" {
		if _, ok := providerspec.Lookup(c.Provider); !ok {
			return fmt.Errorf("unknown provider %q (known: %s)", c.Provider, strings.Join(providerspec.Keys(), ", "))
		}
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be >= 0")
	}
	if err := c.Logging().Validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate_limit.burst must be >= 1 when rate limiting is enabled")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.PerTryTimeout < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if c.Retry.BackoffFactor <= 0 {
		return fmt.Errorf("retry.backoff_factor must be > 0")
	}
	return nil
}

func (c *Config) Logging() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

func (r RetryConfig) Policy() llm.RetryPolicy {
	return llm.RetryPolicy{
		Retries:       r.MaxRetries,
		InitialDelay:  r.InitialDelay,
		BackoffFactor: r.BackoffFactor,
		MaxDelay:      r.MaxDelay,
		PerTryTimeout: r.PerTryTimeout,
	}
}

// Limiter returns nil when rate limiting is disabled.
func (r RateLimitConfig) Limiter() *rate.Limiter {
	if r.RequestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(r.RequestsPerSecond), r.Burst)
}
