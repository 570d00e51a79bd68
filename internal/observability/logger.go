// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing and external error reporting for the gateway.
package observability

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Fields represents structured logging fields as key-value pairs.
type Fields map[string]interface{}

// Logger defines the contract for structured logging. Implementations emit
// JSON suitable for log aggregation systems.
type Logger interface {
	Debug(msg string, fields Fields)
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, err error, fields Fields)

	// WithFields returns a new Logger that includes the given fields in
	// every subsequent entry. Useful for component or request scoping.
	WithFields(fields Fields) Logger
}

var levelOrder = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

// jsonLogger writes one JSON object per entry to an io.Writer.
type jsonLogger struct {
	mu      *sync.Mutex
	out     io.Writer
	level   int
	service string
	fields  Fields
}

// NewLogger creates a stdout JSON logger filtered at the given level.
// Unknown levels fall back to info.
func NewLogger(service, level string) Logger {
	return NewLoggerWithOutput(service, level, os.Stdout)
}

// NewLoggerWithOutput is NewLogger with an explicit output, for tests.
func NewLoggerWithOutput(service, level string, out io.Writer) Logger {
	threshold, ok := levelOrder[level]
	if !ok {
		threshold = levelOrder["info"]
	}
	return &jsonLogger{
		mu:      &sync.Mutex{},
		out:     out,
		level:   threshold,
		service: service,
		fields:  Fields{},
	}
}

func (l *jsonLogger) Debug(msg string, fields Fields) { l.log("debug", msg, nil, fields) }
func (l *jsonLogger) Info(msg string, fields Fields)  { l.log("info", msg, nil, fields) }
func (l *jsonLogger) Warn(msg string, fields Fields)  { l.log("warn", msg, nil, fields) }

func (l *jsonLogger) Error(msg string, err error, fields Fields) {
	l.log("error", msg, err, fields)
}

func (l *jsonLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &jsonLogger{
		mu:      l.mu,
		out:     l.out,
		level:   l.level,
		service: l.service,
		fields:  merged,
	}
}

func (l *jsonLogger) log(level, msg string, err error, fields Fields) {
	if levelOrder[level] < l.level {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"service":   l.service,
		"message":   msg,
	}
	for k, v := range l.fields {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = err.Error()
	}

	line, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}

// NopLogger discards every entry. Used in tests.
func NopLogger() Logger {
	return NewLoggerWithOutput("test", "error", io.Discard)
}
