package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envReader parses typed values out of the environment, collecting a
// violation for every malformed field instead of failing on the first one.
type envReader struct {
	get        func(string) string
	violations []Violation
}

func (r *envReader) addViolation(field, format string, args ...interface{}) {
	r.violations = append(r.violations, Violation{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (r *envReader) str(key, defaultValue string) string {
	if value := r.get(key); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) intVal(key string, defaultValue int) int {
	value := r.get(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		r.addViolation(key, "must be an integer, got %q", value)
		return defaultValue
	}
	return intVal
}

func (r *envReader) boolVal(key string, defaultValue bool) bool {
	value := r.get(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		r.addViolation(key, "must be a boolean, got %q", value)
		return defaultValue
	}
	return boolVal
}

// durationMs parses a millisecond count into a time.Duration.
func (r *envReader) durationMs(key string, defaultValue int) time.Duration {
	return time.Duration(r.intVal(key, defaultValue)) * time.Millisecond
}

// csv parses a comma-separated list, trimming whitespace and dropping
// empty entries.
func (r *envReader) csv(key, defaultValue string) []string {
	value := r.str(key, defaultValue)

	var parts []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
