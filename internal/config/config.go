package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	defaultPort        = "8080"
	defaultServiceName = "core"
	defaultUserAgent   = "hookgate/1.0"
)

// Config is the process configuration: env-driven wiring plus optional engine
// tuning from a YAML file (WEBHOOK_CONFIG).
type Config struct {
	Port        string
	ServiceName string
	DatabaseURL string
	RedisURL    string
	AuthMode    string
	Engine      Engine
}

// Engine tunes the delivery pipeline. YAML keys mirror the field names.
type Engine struct {
	Enabled                *bool   `yaml:"enabled"`
	UserAgent              string  `yaml:"userAgent"`
	TimeoutSec             int     `yaml:"timeoutSec"`
	MaxRetries             int     `yaml:"maxRetries"`
	MaxConsecutiveFailures int     `yaml:"maxConsecutiveFailures"`
	RetryBaseDelayMs       int     `yaml:"retryBaseDelayMs"`
	RetryMaxDelayMs        int     `yaml:"retryMaxDelayMs"`
	RetryJitter            bool    `yaml:"retryJitter"`
	BreakerFailures        int     `yaml:"breakerFailures"`
	BreakerResetSec        int     `yaml:"breakerResetSec"`
	BreakerWindowSec       int     `yaml:"breakerWindowSec"`
	EndpointRatePerSec     float64 `yaml:"endpointRatePerSec"`
	EndpointRateBurst      int     `yaml:"endpointRateBurst"`
}

// Error reports an unusable configuration value.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string { return e.Key + ": " + e.Message }

// Load reads configuration from the environment. When WEBHOOK_CONFIG names a
// YAML file it is loaded first; WEBHOOK_* env vars override its values.
func Load() (Config, error) {
	cfg := Config{
		Port:        envOr("PORT", defaultPort),
		ServiceName: envOr("SERVICE_NAME", defaultServiceName),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		AuthMode:    os.Getenv("AUTH_MODE"),
		Engine:      Engine{UserAgent: defaultUserAgent, RetryJitter: true},
	}
	if path := os.Getenv("WEBHOOK_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &Error{Key: "WEBHOOK_CONFIG", Message: err.Error()}
		}
		if err := yaml.Unmarshal(b, &cfg.Engine); err != nil {
			return Config{}, &Error{Key: "WEBHOOK_CONFIG", Message: "parse: " + err.Error()}
		}
	}
	if err := applyEnvOverrides(&cfg.Engine); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(e *Engine) error {
	if v := os.Getenv("WEBHOOK_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &Error{Key: "WEBHOOK_ENABLED", Message: "must be a boolean"}
		}
		e.Enabled = &b
	}
	if v := os.Getenv("WEBHOOK_USER_AGENT"); v != "" {
		e.UserAgent = v
	}
	for _, it := range []struct {
		key string
		dst *int
	}{
		{"WEBHOOK_TIMEOUT_SEC", &e.TimeoutSec},
		{"WEBHOOK_MAX_RETRIES", &e.MaxRetries},
		{"WEBHOOK_MAX_CONSECUTIVE_FAILURES", &e.MaxConsecutiveFailures},
		{"WEBHOOK_RETRY_BASE_DELAY_MS", &e.RetryBaseDelayMs},
		{"WEBHOOK_RETRY_MAX_DELAY_MS", &e.RetryMaxDelayMs},
		{"WEBHOOK_BREAKER_FAILURES", &e.BreakerFailures},
		{"WEBHOOK_BREAKER_RESET_SEC", &e.BreakerResetSec},
		{"WEBHOOK_BREAKER_WINDOW_SEC", &e.BreakerWindowSec},
	} {
		v := os.Getenv(it.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return &Error{Key: it.key, Message: "must be a non-negative integer"}
		}
		*it.dst = n
	}
	return nil
}

// Enabled resolves the engine on/off switch; the default is on.
func (e Engine) IsEnabled() bool {
	if e.Enabled == nil {
		return true
	}
	return *e.Enabled
}

// Durations derived from the tuning integers.
func (e Engine) Timeout() time.Duration        { return time.Duration(e.TimeoutSec) * time.Second }
func (e Engine) RetryBaseDelay() time.Duration { return time.Duration(e.RetryBaseDelayMs) * time.Millisecond }
func (e Engine) RetryMaxDelay() time.Duration  { return time.Duration(e.RetryMaxDelayMs) * time.Millisecond }
func (e Engine) BreakerReset() time.Duration   { return time.Duration(e.BreakerResetSec) * time.Second }
func (e Engine) BreakerWindow() time.Duration  { return time.Duration(e.BreakerWindowSec) * time.Second }

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
