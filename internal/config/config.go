// Package config loads and validates process configuration from the
// environment. Loading either produces a complete, immutable Settings value
// or fails with every violation found, so the process never starts on a
// partially valid configuration.
package config

import (
	"os"
	"time"
)

// Settings holds all validated application configuration.
// It is created once at startup and never mutated afterwards.
type Settings struct {
	ServiceName string
	Environment string
	LogLevel    string

	Port           int
	RequestTimeout time.Duration

	Storage   StorageSettings
	RateLimit RateLimitSettings
	Delay     DelaySettings

	// AllowedOrigins is the CORS origin allow-list. A single "*" entry
	// allows any origin.
	AllowedOrigins []string

	// OTLPEndpoint enables trace export when set. Empty disables tracing.
	OTLPEndpoint string

	// SentryDSN enables external error reporting when set.
	SentryDSN string
}

// StorageSettings holds object storage configuration.
type StorageSettings struct {
	Region          string
	Endpoint        string // custom endpoint for MinIO or other S3-compatible services
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// MockMode reports whether storage should run without a real backend.
// An empty bucket name selects the deterministic mock gateway.
func (s StorageSettings) MockMode() bool {
	return s.Bucket == ""
}

// RateLimitSettings bounds requests per client over a window.
type RateLimitSettings struct {
	Window time.Duration
	Max    int
}

// DelaySettings bounds the simulated processing delay for download starts.
type DelaySettings struct {
	Enabled bool
	Min     time.Duration
	Max     time.Duration
}

// Load reads configuration from the process environment and validates it.
func Load() (*Settings, error) {
	return loadFrom(os.Getenv)
}

func loadFrom(get func(string) string) (*Settings, error) {
	r := &envReader{get: get}

	s := &Settings{
		ServiceName:    r.str("SERVICE_NAME", "download-gateway"),
		Environment:    r.str("ENVIRONMENT", "development"),
		LogLevel:       r.str("LOG_LEVEL", "info"),
		Port:           r.intVal("PORT", 8080),
		RequestTimeout: r.durationMs("REQUEST_TIMEOUT_MS", 30000),
		Storage: StorageSettings{
			Region:          r.str("AWS_REGION", ""),
			Endpoint:        r.str("S3_ENDPOINT", ""),
			Bucket:          r.str("S3_BUCKET", ""),
			AccessKeyID:     r.str("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: r.str("AWS_SECRET_ACCESS_KEY", ""),
			ForcePathStyle:  r.boolVal("S3_FORCE_PATH_STYLE", false),
		},
		RateLimit: RateLimitSettings{
			Window: r.durationMs("RATE_LIMIT_WINDOW_MS", 60000),
			Max:    r.intVal("RATE_LIMIT_MAX", 100),
		},
		Delay: DelaySettings{
			Enabled: r.boolVal("SIMULATE_DELAY", true),
			Min:     r.durationMs("DELAY_MIN_MS", 1000),
			Max:     r.durationMs("DELAY_MAX_MS", 5000),
		},
		AllowedOrigins: r.csv("ALLOWED_ORIGINS", "*"),
		OTLPEndpoint:   r.str("OTLP_ENDPOINT", ""),
		SentryDSN:      r.str("SENTRY_DSN", ""),
	}

	violations := append(r.violations, s.validate()...)
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	return s, nil
}
