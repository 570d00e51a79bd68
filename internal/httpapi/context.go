package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"download-gateway/internal/observability"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	traceNoteKey
)

// Response and correlation headers.
const (
	headerRequestID = "X-Request-Id"
	headerTraceID   = "X-Trace-Id"
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the identifier assigned by the identity
// middleware, or an empty string outside the chain.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// traceNote carries the active trace identifier across the timeout boundary.
// The tracing stage runs on the handler goroutine while an expired request is
// answered from the serving goroutine, so the identifier crosses under a lock
// rather than through the discarded buffered headers.
type traceNote struct {
	mu sync.Mutex
	id string
}

func (n *traceNote) store(id string) {
	n.mu.Lock()
	n.id = id
	n.mu.Unlock()
}

func (n *traceNote) load() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func withTraceNote(ctx context.Context, n *traceNote) context.Context {
	return context.WithValue(ctx, traceNoteKey, n)
}

func traceNoteFrom(ctx context.Context) *traceNote {
	n, _ := ctx.Value(traceNoteKey).(*traceNote)
	return n
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func fieldsFor(requestID, eventID string) observability.Fields {
	fields := observability.Fields{"request_id": requestID}
	if eventID != "" {
		fields["event_id"] = eventID
	}
	return fields
}
