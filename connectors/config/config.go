// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names understood by the service.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Credential source names, tried in the listed order.
const (
	SourceStatic = "static"
	SourceEnv    = "env"
	SourceAWS    = "aws"
)

// Config is the complete service configuration.
type Config struct {
	Version          string                    `yaml:"version"`
	LogLevel         string                    `yaml:"log_level"`
	CommandTimeoutMs int                       `yaml:"command_timeout_ms"`
	Server           ServerConfig              `yaml:"server"`
	Routing          RoutingConfig             `yaml:"routing"`
	Providers        map[string]ProviderConfig `yaml:"providers"`
	CircuitBreaker   CircuitBreakerConfig      `yaml:"circuit_breaker"`
	RateLimit        RateLimitConfig           `yaml:"rate_limit"`
	Health           HealthConfig              `yaml:"health"`
	Storage          StorageConfig             `yaml:"storage"`
	Events           EventsConfig              `yaml:"events"`
	Credentials      CredentialsConfig         `yaml:"credentials"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// RoutingConfig names the provider serving each tier.
type RoutingConfig struct {
	Fast    string `yaml:"fast"`
	Capable string `yaml:"capable"`
}

// ProviderConfig configures one adapter. Zero values fall back to the
// adapter's own defaults.
type ProviderConfig struct {
	Enabled          bool   `yaml:"enabled"`
	APIKey           string `yaml:"api_key,omitempty"`
	Model            string `yaml:"model,omitempty"`
	BaseURL          string `yaml:"base_url,omitempty"`
	Region           string `yaml:"region,omitempty"`
	TimeoutMs        int    `yaml:"timeout_ms,omitempty"`
	MaxTokens        int    `yaml:"max_tokens,omitempty"`
	AverageLatencyMs int    `yaml:"average_latency_ms,omitempty"`
}

// Timeout returns the per-call timeout.
func (p ProviderConfig) Timeout() time.Duration { return ms(p.TimeoutMs) }

// AverageLatency returns the static latency descriptor.
func (p ProviderConfig) AverageLatency() time.Duration { return ms(p.AverageLatencyMs) }

// CircuitBreakerConfig configures the per-provider breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownMs       int `yaml:"cooldown_ms"`
}

// Cooldown returns how long an open circuit refuses calls.
func (c CircuitBreakerConfig) Cooldown() time.Duration { return ms(c.CooldownMs) }

// RateLimitConfig configures the per-provider limiter.
type RateLimitConfig struct {
	Backend     string `yaml:"backend"`
	MaxRequests int    `yaml:"max_requests"`
	WindowMs    int    `yaml:"window_ms"`
	RedisURL    string `yaml:"redis_url,omitempty"`
}

// Window returns the sliding window length.
func (r RateLimitConfig) Window() time.Duration { return ms(r.WindowMs) }

// HealthConfig configures background probing.
type HealthConfig struct {
	Disabled       bool `yaml:"disabled"`
	IntervalMs     int  `yaml:"interval_ms"`
	ProbeTimeoutMs int  `yaml:"probe_timeout_ms"`
}

// Interval returns the probe interval.
func (h HealthConfig) Interval() time.Duration { return ms(h.IntervalMs) }

// ProbeTimeout returns the per-probe budget.
func (h HealthConfig) ProbeTimeout() time.Duration { return ms(h.ProbeTimeoutMs) }

// StorageConfig selects the document store.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url,omitempty"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// EventsConfig selects the change publisher.
type EventsConfig struct {
	Backend          string `yaml:"backend"`
	RedisURL         string `yaml:"redis_url,omitempty"`
	PublishTimeoutMs int    `yaml:"publish_timeout_ms"`
}

// PublishTimeout bounds a single publish.
func (e EventsConfig) PublishTimeout() time.Duration { return ms(e.PublishTimeoutMs) }

// CredentialsConfig configures where API keys come from.
type CredentialsConfig struct {
	Sources    []string          `yaml:"sources"`
	AWSRegion  string            `yaml:"aws_region,omitempty"`
	SecretIDs  map[string]string `yaml:"secret_ids,omitempty"`
	CacheTTLMs int               `yaml:"cache_ttl_ms,omitempty"`
}

// CacheTTL returns how long fetched secrets are reused.
func (c CredentialsConfig) CacheTTL() time.Duration { return ms(c.CacheTTLMs) }

// CommandTimeout returns the overall budget for one command.
func (c *Config) CommandTimeout() time.Duration { return ms(c.CommandTimeoutMs) }

// Provider returns the named provider's config.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// Default returns a config that runs locally with in-memory backends.
func Default() *Config {
	return &Config{
		Version:          "1",
		LogLevel:         "INFO",
		CommandTimeoutMs: 30000,
		Server:           ServerConfig{Port: 8081},
		Routing:          RoutingConfig{Fast: ProviderGemini, Capable: ProviderAnthropic},
		Providers: map[string]ProviderConfig{
			ProviderAnthropic: {Enabled: true},
			ProviderGemini:    {Enabled: true},
			ProviderBedrock:   {Enabled: false, Region: "us-east-1"},
		},
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 5, CooldownMs: 60000},
		RateLimit:      RateLimitConfig{Backend: BackendMemory, MaxRequests: 60, WindowMs: 60000},
		Health:         HealthConfig{IntervalMs: 300000, ProbeTimeoutMs: 10000},
		Storage:        StorageConfig{Backend: BackendMemory, AutoMigrate: true},
		Events:         EventsConfig{Backend: BackendNone, PublishTimeoutMs: 2000},
		Credentials: CredentialsConfig{
			Sources:    []string{SourceStatic, SourceEnv},
			CacheTTLMs: 300000,
		},
	}
}

// applyDefaults fills zero values left by a partial config file.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Version == "" {
		c.Version = d.Version
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.CommandTimeoutMs == 0 {
		c.CommandTimeoutMs = d.CommandTimeoutMs
	}
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Routing.Fast == "" {
		c.Routing.Fast = d.Routing.Fast
	}
	if c.Routing.Capable == "" {
		c.Routing.Capable = d.Routing.Capable
	}
	if c.Providers == nil {
		c.Providers = d.Providers
	}
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = d.CircuitBreaker.FailureThreshold
	}
	if c.CircuitBreaker.CooldownMs == 0 {
		c.CircuitBreaker.CooldownMs = d.CircuitBreaker.CooldownMs
	}
	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = d.RateLimit.Backend
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = d.RateLimit.MaxRequests
	}
	if c.RateLimit.WindowMs == 0 {
		c.RateLimit.WindowMs = d.RateLimit.WindowMs
	}
	if c.Health.IntervalMs == 0 {
		c.Health.IntervalMs = d.Health.IntervalMs
	}
	if c.Health.ProbeTimeoutMs == 0 {
		c.Health.ProbeTimeoutMs = d.Health.ProbeTimeoutMs
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Events.Backend == "" {
		c.Events.Backend = d.Events.Backend
	}
	if c.Events.PublishTimeoutMs == 0 {
		c.Events.PublishTimeoutMs = d.Events.PublishTimeoutMs
	}
	if len(c.Credentials.Sources) == 0 {
		c.Credentials.Sources = d.Credentials.Sources
	}
	if c.Credentials.CacheTTLMs == 0 {
		c.Credentials.CacheTTLMs = d.Credentials.CacheTTLMs
	}
}

// ApplyEnv overrides file values with environment variables.
//
// Durations accept Go syntax ("30s") or plain milliseconds. Setting
// REDIS_URL switches the limiter and publisher to Redis; setting
// DATABASE_URL switches storage to Postgres.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("FAST_PROVIDER"); v != "" {
		c.Routing.Fast = strings.ToLower(v)
	}
	if v := os.Getenv("CAPABLE_PROVIDER"); v != "" {
		c.Routing.Capable = strings.ToLower(v)
	}

	durations := []struct {
		env    string
		target *int
	}{
		{"COMMAND_TIMEOUT", &c.CommandTimeoutMs},
		{"CIRCUIT_BREAKER_COOLDOWN", &c.CircuitBreaker.CooldownMs},
		{"RATE_LIMIT_WINDOW", &c.RateLimit.WindowMs},
		{"HEALTH_CHECK_INTERVAL", &c.Health.IntervalMs},
		{"HEALTH_PROBE_TIMEOUT", &c.Health.ProbeTimeoutMs},
	}
	for _, d := range durations {
		if v := os.Getenv(d.env); v != "" {
			n, err := parseMillis(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", d.env, v, err)
			}
			*d.target = n
		}
	}

	ints := []struct {
		env    string
		target *int
	}{
		{"CIRCUIT_BREAKER_THRESHOLD", &c.CircuitBreaker.FailureThreshold},
		{"RATE_LIMIT_MAX_REQUESTS", &c.RateLimit.MaxRequests},
	}
	for _, i := range ints {
		if v := os.Getenv(i.env); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", i.env, v, err)
			}
			*i.target = n
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RateLimit.Backend = BackendRedis
		c.RateLimit.RedisURL = v
		c.Events.Backend = BackendRedis
		c.Events.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.Backend = BackendPostgres
		c.Storage.DatabaseURL = v
	}

	for name, prefix := range map[string]string{
		ProviderAnthropic: "ANTHROPIC",
		ProviderGemini:    "GEMINI",
		ProviderBedrock:   "BEDROCK",
	} {
		p, changed := c.Providers[name]
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			p.Model, changed = v, true
		}
		if v := os.Getenv(prefix + "_ENABLED"); v != "" {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s_ENABLED %q: %w", prefix, v, err)
			}
			p.Enabled, changed = enabled, true
		}
		if v := os.Getenv(prefix + "_REGION"); v != "" && name == ProviderBedrock {
			p.Region, changed = v, true
		}
		if changed {
			if c.Providers == nil {
				c.Providers = make(map[string]ProviderConfig)
			}
			c.Providers[name] = p
		}
	}
	if v := os.Getenv("CREDENTIAL_SOURCES"); v != "" {
		c.Credentials.Sources = splitList(v)
	}
	return nil
}

// Validate checks the config is usable.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("config must specify a version")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.CommandTimeoutMs <= 0 {
		return fmt.Errorf("command_timeout_ms must be positive")
	}

	for tier, name := range map[string]string{"fast": c.Routing.Fast, "capable": c.Routing.Capable} {
		p, ok := c.Providers[name]
		if !ok || !isKnownProvider(name) {
			return fmt.Errorf("%s tier provider %q is not configured", tier, name)
		}
		if !p.Enabled {
			return fmt.Errorf("%s tier provider %q is disabled", tier, name)
		}
	}
	if c.Routing.Fast == c.Routing.Capable {
		return fmt.Errorf("fast and capable tiers must use different providers, both are %q", c.Routing.Fast)
	}
	for name := range c.Providers {
		if !isKnownProvider(name) {
			return fmt.Errorf("unknown provider %q", name)
		}
	}

	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	if c.CircuitBreaker.CooldownMs <= 0 {
		return fmt.Errorf("circuit_breaker.cooldown_ms must be positive")
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("rate_limit.max_requests and rate_limit.window_ms must be positive")
	}
	switch c.RateLimit.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid rate_limit.backend %q", c.RateLimit.Backend)
	}
	if c.Health.IntervalMs <= 0 || c.Health.ProbeTimeoutMs <= 0 {
		return fmt.Errorf("health.interval_ms and health.probe_timeout_ms must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage.backend %q", c.Storage.Backend)
	}

	switch c.Events.Backend {
	case BackendNone:
	case BackendRedis:
		if c.Events.RedisURL == "" {
			return fmt.Errorf("events.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid events.backend %q", c.Events.Backend)
	}

	for _, s := range c.Credentials.Sources {
		switch s {
		case SourceStatic, SourceEnv:
		case SourceAWS:
			if len(c.Credentials.SecretIDs) == 0 {
				return fmt.Errorf("credentials.secret_ids is required for the aws source")
			}
		default:
			return fmt.Errorf("unknown credential source %q", s)
		}
	}
	return nil
}

func isKnownProvider(name string) bool {
	switch name {
	case ProviderAnthropic, ProviderGemini, ProviderBedrock:
		return true
	}
	return false
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func parseMillis(v string) (int, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	return int(d.Milliseconds()), nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
