package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Gateway listener
	ListenAddr string `koanf:"listen_addr"`

	// Rule store
	DataDir      string        `koanf:"data_dir"`
	RuleCacheTTL time.Duration `koanf:"rule_cache_ttl"`

	// Counter backend
	CounterBackend string        `koanf:"counter_backend"` // "redis" or "memory"
	RedisAddr      string        `koanf:"redis_addr"`
	RedisPassword  string        `koanf:"redis_password"`
	RedisDB        int           `koanf:"redis_db"`
	RedisTimeout   time.Duration `koanf:"redis_timeout"`
	CounterPrefix  string        `koanf:"counter_prefix"`

	// Static fallback tiers, "max:windowSeconds"
	FallbackShort  string `koanf:"fallback_short"`
	FallbackMedium string `koanf:"fallback_medium"`
	FallbackLong   string `koanf:"fallback_long"`

	// Caller addressing
	TrustForwardedFor bool   `koanf:"trust_forwarded_for"`
	AdminRole         string `koanf:"admin_role"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen_addr":         ":8080",
		"data_dir":            "/data",
		"rule_cache_ttl":      "5m",
		"counter_backend":     "redis",
		"redis_addr":          "redis:6379",
		"redis_db":            0,
		"redis_timeout":       "2s",
		"counter_prefix":      "gatekeeper:counter",
		"fallback_short":      "3:1",
		"fallback_medium":     "20:10",
		"fallback_long":       "100:60",
		"trust_forwarded_for": false,
		"admin_role":          "admin",
		"log_level":           "info",
		"log_format":          "json",
		"metrics_enabled":     true,
		"metrics_addr":        ":9090",
		"health_addr":         ":8081",
		"janitor_interval":    "10m",
	}
}

// sanitise removes a single layer of matching surrounding quotes from
// all string fields. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.CounterBackend = stripEnvQuotes(c.CounterBackend)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.CounterPrefix = stripEnvQuotes(c.CounterPrefix)
	c.FallbackShort = stripEnvQuotes(c.FallbackShort)
	c.FallbackMedium = stripEnvQuotes(c.FallbackMedium)
	c.FallbackLong = stripEnvQuotes(c.FallbackLong)
	c.AdminRole = stripEnvQuotes(c.AdminRole)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)
}

// stripEnvQuotes removes a single layer of matching surrounding single
// or double quotes from s. Only symmetric pairs are stripped: 'x' → x,
// "x" → x. Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE
// secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. REDIS_ADDR →
	// "redis_addr" maps straight onto the koanf struct tag.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.CounterBackend != "redis" && c.CounterBackend != "memory" {
		return fmt.Errorf("COUNTER_BACKEND must be redis or memory; got %q", c.CounterBackend)
	}
	if c.CounterBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when COUNTER_BACKEND is redis")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.RuleCacheTTL <= 0 {
		return fmt.Errorf("RULE_CACHE_TTL must be > 0; got %s", c.RuleCacheTTL)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}
	if c.AdminRole == "" {
		return fmt.Errorf("ADMIN_ROLE must not be empty")
	}

	for _, pair := range []struct{ name, value string }{
		{"FALLBACK_SHORT", c.FallbackShort},
		{"FALLBACK_MEDIUM", c.FallbackMedium},
		{"FALLBACK_LONG", c.FallbackLong},
	} {
		if err := checkTierFormat(pair.value); err != nil {
			return fmt.Errorf("%s: %w", pair.name, err)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	return nil
}

// checkTierFormat validates a "max:windowSeconds" pair without
// importing the guard package.
func checkTierFormat(s string) error {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("expected max:windowSeconds, got %q", s)
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("expected max:windowSeconds, got %q", s)
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return fmt.Errorf("expected max:windowSeconds, got %q", s)
			}
		}
	}
	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"redis_password",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no
// Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
