package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"download-gateway/internal/config"
	"download-gateway/internal/observability"
	"download-gateway/internal/ratelimit"
	"download-gateway/internal/storage"
)

// stubReporter records captures and hands back a fixed event identifier.
type stubReporter struct {
	captured []error
}

func (r *stubReporter) CaptureError(err error, tags map[string]string) string {
	r.captured = append(r.captured, err)
	return "stub-event-id"
}

func (r *stubReporter) Flush(time.Duration) {}

// failingGateway simulates an unreachable backend.
type failingGateway struct{}

func (failingGateway) CheckHealth(context.Context) error { return storage.ErrStoreUnavailable }
func (failingGateway) CheckAvailability(context.Context, int64) (storage.AvailabilityResult, error) {
	return storage.AvailabilityResult{}, storage.ErrStoreUnavailable
}
func (failingGateway) ObjectURL(string) string { return "" }
func (failingGateway) Close() error            { return nil }

func testSettings() *config.Settings {
	return &config.Settings{
		ServiceName:    "download-gateway",
		Environment:    "test",
		LogLevel:       "error",
		Port:           0,
		RequestTimeout: 2 * time.Second,
		Storage:        config.StorageSettings{Region: "us-east-1"},
		RateLimit:      config.RateLimitSettings{Window: time.Minute, Max: 1000},
		Delay:          config.DelaySettings{Enabled: false, Min: time.Millisecond, Max: 5 * time.Millisecond},
		AllowedOrigins: []string{"*"},
	}
}

func newTestServer(t *testing.T, cfg *config.Settings, gateway storage.Gateway) (*Server, *stubReporter) {
	t.Helper()

	logger := observability.NopLogger()
	metrics := observability.NewMetrics("httpapi_test")
	tracer, err := observability.NewTracer(context.Background(), cfg.ServiceName, cfg.Environment, "")
	require.NoError(t, err)

	if gateway == nil {
		gateway = storage.NewMockGateway(logger, metrics)
	}

	reporter := &stubReporter{}
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max)
	return NewServer(cfg, logger, metrics, tracer, reporter, gateway, limiter), reporter
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthHealthy(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)
	handler := srv.Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		decode(t, rec, &body)
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "ok", body.Checks["storage"])
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), failingGateway{})

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, rec, &body)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "error", body.Checks["storage"])
}

func TestInitiateQueuesBatch(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/initiate", `{"file_ids":[1,2,3]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		JobID        string `json:"jobId"`
		Status       string `json:"status"`
		TotalFileIDs int    `json:"totalFileIds"`
	}
	decode(t, rec, &body)

	_, err := uuid.Parse(body.JobID)
	assert.NoError(t, err, "jobId should be a well-formed uuid")
	assert.Equal(t, "queued", body.Status)
	assert.Equal(t, 3, body.TotalFileIDs)
}

func TestInitiateValidation(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)
	handler := srv.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"empty list", `{"file_ids":[]}`},
		{"missing body", ``},
		{"negative id", `{"file_ids":[1,-2]}`},
		{"zero id", `{"file_ids":[0]}`},
		{"not json", `file_ids=1`},
		{"unknown field", `{"files":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, handler, http.MethodPost, "/v1/download/initiate", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body errorBody
			decode(t, rec, &body)
			assert.Equal(t, KindValidation, body.Error)
			assert.NotEmpty(t, body.RequestID)
		})
	}
}

func TestCheckAvailability(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/v1/download/check", `{"file_id":7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var available checkResponse
	decode(t, rec, &available)
	assert.True(t, available.Available)
	require.NotNil(t, available.S3Key)
	assert.Equal(t, "files/7/archive.zip", *available.S3Key)
	require.NotNil(t, available.Size)
	assert.Positive(t, *available.Size)

	rec = doJSON(t, handler, http.MethodPost, "/v1/download/check", `{"file_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var missing checkResponse
	decode(t, rec, &missing)
	assert.False(t, missing.Available)
	assert.Nil(t, missing.S3Key)
	assert.Nil(t, missing.Size)
}

func TestCheckSentryTestFlag(t *testing.T) {
	srv, reporter := newTestServer(t, testSettings(), nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/check?sentry_test=true", `{"file_id":70000}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, KindInternal, body.Error)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, "stub-event-id", body.EventID)
	assert.NotContains(t, body.Message, "synthetic", "internal detail must not leak")

	require.Len(t, reporter.captured, 1)
}

func TestCheckStorageUnavailable(t *testing.T) {
	srv, reporter := newTestServer(t, testSettings(), failingGateway{})

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/check", `{"file_id":7}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, KindStorageUnavailable, body.Error)
	assert.Empty(t, reporter.captured, "storage failures are not unhandled failures")
}

func TestStartCompleted(t *testing.T) {
	cfg := testSettings()
	cfg.Delay = config.DelaySettings{Enabled: true, Min: 10 * time.Millisecond, Max: 10 * time.Millisecond}
	srv, _ := newTestServer(t, cfg, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/start", `{"file_id":14}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome downloadOutcome
	decode(t, rec, &outcome)
	assert.Equal(t, "completed", outcome.Status)
	require.NotNil(t, outcome.DownloadURL)
	assert.Contains(t, *outcome.DownloadURL, "files/14/archive.zip")
	require.NotNil(t, outcome.Size)
	assert.GreaterOrEqual(t, outcome.ProcessingTimeMs, int64(10))
}

func TestStartFailedForUnavailableFile(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/start", `{"file_id":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome downloadOutcome
	decode(t, rec, &outcome)
	assert.Equal(t, "failed", outcome.Status)
	assert.Nil(t, outcome.DownloadURL)
	assert.Nil(t, outcome.Size)
	assert.NotEmpty(t, outcome.Message)
}

func TestTimeoutProducesGatewayTimeout(t *testing.T) {
	cfg := testSettings()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.Delay = config.DelaySettings{Enabled: true, Min: 300 * time.Millisecond, Max: 300 * time.Millisecond}
	srv, _ := newTestServer(t, cfg, nil)

	start := time.Now()
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/start", `{"file_id":7}`)
	elapsed := time.Since(start)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Less(t, elapsed, 250*time.Millisecond, "timeout must not wait for the handler")

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, KindTimeout, body.Error)
	assert.NotEmpty(t, body.RequestID)
}

func TestTimeoutResponseCarriesTraceID(t *testing.T) {
	cfg := testSettings()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.Delay = config.DelaySettings{Enabled: true, Min: 300 * time.Millisecond, Max: 300 * time.Millisecond}

	logger := observability.NopLogger()
	metrics := observability.NewMetrics("httpapi_trace_test")
	tracer := observability.NewTracerFromProvider(sdktrace.NewTracerProvider(), cfg.ServiceName)
	gateway := storage.NewMockGateway(logger, metrics)
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max)
	srv := NewServer(cfg, logger, metrics, tracer, &stubReporter{}, gateway, limiter)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/download/start", `{"file_id":7}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)

	// The buffered response is discarded on expiry; the trace identifier
	// must survive onto the 504 anyway.
	traceID := rec.Header().Get("X-Trace-Id")
	require.NotEmpty(t, traceID)
	assert.Len(t, traceID, 32)
}

func TestInjectedLimiterGovernsRequests(t *testing.T) {
	cfg := testSettings() // settings allow 1000 per window

	logger := observability.NopLogger()
	metrics := observability.NewMetrics("httpapi_limiter_test")
	tracer, err := observability.NewTracer(context.Background(), cfg.ServiceName, cfg.Environment, "")
	require.NoError(t, err)
	limiter := ratelimit.New(time.Minute, 1)
	srv := NewServer(cfg, logger, metrics, tracer, &stubReporter{}, storage.NewMockGateway(logger, metrics), limiter)
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Same(t, limiter, srv.Limiter())
}

func TestRateLimitRejectsOverThreshold(t *testing.T) {
	cfg := testSettings()
	cfg.RateLimit = config.RateLimitSettings{Window: time.Minute, Max: 2}
	srv, _ := newTestServer(t, cfg, nil)
	handler := srv.Handler()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}

	rec := doJSON(t, handler, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, KindRateLimitExceeded, body.Error)

	// Resetting the injected store lifts the limit, the swap/reset seam
	// the middleware is built around.
	srv.Limiter().Reset()
	rec = doJSON(t, handler, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseHeaders(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "")

	requestID := rec.Header().Get("X-Request-Id")
	require.NotEmpty(t, requestID)
	_, err := uuid.Parse(requestID)
	assert.NoError(t, err)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRequestIDsAreUnique(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)
	handler := srv.Handler()

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		rec := doJSON(t, handler, http.MethodGet, "/health", "")
		id := rec.Header().Get("X-Request-Id")
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := testSettings()
	cfg.AllowedOrigins = []string{"https://dashboard.example"}
	srv, _ := newTestServer(t, cfg, nil)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/v1/download/check", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dashboard.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodOptions, "/v1/download/check", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv, _ := newTestServer(t, testSettings(), nil)
	handler := srv.Handler()

	doJSON(t, handler, http.MethodGet, "/health", "")

	rec := doJSON(t, handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "httpapi_test_http_requests_total")
}
