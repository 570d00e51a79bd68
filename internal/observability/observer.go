package observability

import "time"

// CompletionEvent describes one finished HTTP request. It is handed to every
// registered Observer synchronously once the response has been written.
type CompletionEvent struct {
	Method    string
	Route     string
	Status    int
	Duration  time.Duration
	RequestID string
	TraceID   string
}

// Observer receives request completion events. Implementations must be fast
// and must not block; the pipeline calls them inline.
type Observer interface {
	RequestCompleted(event CompletionEvent)
}

// AccessLogObserver writes one structured access log entry per request.
type AccessLogObserver struct {
	logger Logger
}

// NewAccessLogObserver creates an observer logging completions through the
// given logger.
func NewAccessLogObserver(logger Logger) *AccessLogObserver {
	return &AccessLogObserver{logger: logger}
}

// RequestCompleted implements Observer.
func (o *AccessLogObserver) RequestCompleted(event CompletionEvent) {
	fields := Fields{
		"method":      event.Method,
		"route":       event.Route,
		"status":      event.Status,
		"duration_ms": event.Duration.Milliseconds(),
		"request_id":  event.RequestID,
	}
	if event.TraceID != "" {
		fields["trace_id"] = event.TraceID
	}

	if event.Status >= 500 {
		o.logger.Error("request completed", nil, fields)
		return
	}
	o.logger.Info("request completed", fields)
}
