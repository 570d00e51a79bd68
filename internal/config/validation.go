package config

import (
	"fmt"
	"strings"
)

// Violation describes a single invalid configuration field.
type Violation struct {
	Field  string
	Reason string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// ValidationError aggregates every configuration violation found during
// loading so operators see the full list at once.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	reasons := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		reasons[i] = v.String()
	}
	return fmt.Sprintf("configuration errors: %s", strings.Join(reasons, "; "))
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// validate checks cross-field constraints on already parsed values.
func (s *Settings) validate() []Violation {
	var violations []Violation

	add := func(field, format string, args ...interface{}) {
		violations = append(violations, Violation{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if s.Port <= 0 || s.Port > 65535 {
		add("PORT", "must be between 1 and 65535")
	}
	if !validLogLevels[s.LogLevel] {
		add("LOG_LEVEL", "must be one of debug, info, warn, error")
	}
	if s.RequestTimeout <= 0 {
		add("REQUEST_TIMEOUT_MS", "must be positive")
	}

	if s.Storage.Region == "" {
		add("AWS_REGION", "is required")
	}
	if s.Storage.ForcePathStyle && s.Storage.Endpoint == "" {
		add("S3_FORCE_PATH_STYLE", "requires S3_ENDPOINT to be set")
	}

	if s.RateLimit.Window <= 0 {
		add("RATE_LIMIT_WINDOW_MS", "must be positive")
	}
	if s.RateLimit.Max <= 0 {
		add("RATE_LIMIT_MAX", "must be positive")
	}

	if s.Delay.Min <= 0 {
		add("DELAY_MIN_MS", "must be positive")
	}
	if s.Delay.Max <= 0 {
		add("DELAY_MAX_MS", "must be positive")
	} else if s.Delay.Min > s.Delay.Max {
		add("DELAY_MIN_MS", "must not exceed DELAY_MAX_MS")
	}

	if len(s.AllowedOrigins) == 0 {
		add("ALLOWED_ORIGINS", "must list at least one origin or be *")
	}

	return violations
}
