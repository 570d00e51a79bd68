package observability

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrorReporter forwards unhandled failures to an external sink. CaptureError
// returns an opaque event identifier that callers may surface for support
// correlation, or an empty string when reporting is disabled or fails.
type ErrorReporter interface {
	CaptureError(err error, tags map[string]string) string
	Flush(timeout time.Duration)
}

type sentryReporter struct {
	hub *sentry.Hub
}

// NewErrorReporter creates a Sentry-backed reporter. An empty DSN returns a
// disabled reporter so callers never branch on configuration.
func NewErrorReporter(dsn, environment, serviceName string) (ErrorReporter, error) {
	if dsn == "" {
		return disabledReporter{}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		ServerName:  serviceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}

	return &sentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *sentryReporter) CaptureError(err error, tags map[string]string) string {
	var eventID *sentry.EventID
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		eventID = r.hub.CaptureException(err)
	})

	if eventID == nil {
		return ""
	}
	return string(*eventID)
}

func (r *sentryReporter) Flush(timeout time.Duration) {
	r.hub.Flush(timeout)
}

type disabledReporter struct{}

func (disabledReporter) CaptureError(error, map[string]string) string { return "" }
func (disabledReporter) Flush(time.Duration)                          {}
