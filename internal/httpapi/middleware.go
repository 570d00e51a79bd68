package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"download-gateway/internal/observability"
)

// middleware wraps an http.Handler with one pipeline stage.
type middleware func(next http.Handler) http.Handler

// chain applies middlewares so the first listed runs outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requestID assigns every request a unique identifier and exposes it on the
// response for log and trace correlation.
func requestID() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := uuid.New().String()
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
		})
	}
}

// statusRecorder captures the response code for observers and tracing.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe notifies the registered observers synchronously once the response
// has been written, whatever the outcome of the inner stages.
func (s *Server) observe(route string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			s.metrics.RequestStarted(route)

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			event := observability.CompletionEvent{
				Method:    r.Method,
				Route:     route,
				Status:    rec.status,
				Duration:  time.Since(start),
				RequestID: RequestIDFromContext(r.Context()),
				TraceID:   w.Header().Get(headerTraceID),
			}
			for _, observer := range s.observers {
				observer.RequestCompleted(event)
			}
		})
	}
}

// recovery is the outermost failure boundary: panics from any later stage or
// the handler are shaped into the uniform error body.
func (s *Server) recovery() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					s.writeError(w, r, NewInternalError(fmt.Errorf("panic: %v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// securityHeaders attaches a fixed hardening set to every response.
func securityHeaders() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// cors enforces the configured origin allow-list with standard preflight
// semantics. Disallowed origins get no allow headers; disallowed preflights
// are rejected outright.
func (s *Server) cors() middleware {
	allowAny := false
	allowed := make(map[string]bool, len(s.cfg.AllowedOrigins))
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			allowAny = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")

			if !allowAny && !allowed[origin] {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			allowOrigin := origin
			if allowAny {
				allowOrigin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", allowOrigin)

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Traceparent")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bufferedWriter holds the inner stages' response until the timeout stage
// decides whether to flush it, so a late handler can never race a 504
// already sent to the client.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter) {
	for key, values := range b.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	if b.status == 0 {
		b.status = http.StatusOK
	}
	w.WriteHeader(b.status)
	w.Write(b.body.Bytes())
}

// timeout bounds total handler execution. On expiry the buffered response is
// discarded, a 504-class error is written, and the request context is
// cancelled so in-flight storage calls stop.
func (s *Server) timeout() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
			defer cancel()

			note := &traceNote{}
			ctx = withTraceNote(ctx, note)

			buf := newBufferedWriter()
			done := make(chan struct{})

			go func() {
				defer close(done)
				// The inner stages run on this goroutine, outside the
				// reach of the outer recovery stage.
				defer func() {
					if rec := recover(); rec != nil {
						s.writeError(buf, r, NewInternalError(fmt.Errorf("panic: %v", rec)))
					}
				}()
				next.ServeHTTP(buf, r.WithContext(ctx))
			}()

			select {
			case <-done:
				buf.flush(w)
			case <-ctx.Done():
				// The buffered headers are abandoned with the handler
				// goroutine; recover the trace identifier so the 504 and
				// its report stay correlated.
				if id := note.load(); id != "" {
					w.Header().Set(headerTraceID, id)
				}
				s.writeError(w, r, &APIError{
					Kind:    KindTimeout,
					Message: fmt.Sprintf("Request exceeded the %v processing limit", s.cfg.RequestTimeout),
					cause:   ctx.Err(),
				})
			}
		})
	}
}

// rateLimit enforces the per-client window and renders the standard
// limit/remaining/reset headers on every response it sees.
func (s *Server) rateLimit() middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := s.limiter.Allow(clientKey(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				retryAfter := int(decision.RetryAfter.Seconds() + 0.5)
				if retryAfter < 1 {
					retryAfter = 1
				}
				h.Set("Retry-After", strconv.Itoa(retryAfter))

				s.metrics.RecordRateLimited()
				s.writeError(w, r, &APIError{
					Kind:    KindRateLimitExceeded,
					Message: fmt.Sprintf("Rate limit exceeded, retry in %ds", retryAfter),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies a client by source address for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// tracing continues any inbound W3C trace context or starts a fresh server
// span, exposes the active trace identifier on the response, and closes the
// span with a status reflecting the outcome.
func (s *Server) tracing(route string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := s.tracer.Start(ctx, fmt.Sprintf("HTTP %s %s", r.Method, route),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", route),
					attribute.String("request.id", RequestIDFromContext(r.Context())),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set(headerTraceID, sc.TraceID().String())
				if note := traceNoteFrom(r.Context()); note != nil {
					note.store(sc.TraceID().String())
				}
			}

			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r.WithContext(ctx))

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.status_code", rec.status))
			if rec.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}
