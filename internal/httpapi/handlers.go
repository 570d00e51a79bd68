package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/google/uuid"

	"download-gateway/internal/observability"
)

const (
	// maxFileID bounds identifiers so storage keys stay within the
	// expected catalogue range.
	maxFileID = 10_000_000

	// maxInitiateBatch bounds how many file identifiers one initiate
	// request may carry.
	maxInitiateBatch = 100

	// maxBodyBytes bounds request body reads.
	maxBodyBytes = 64 * 1024
)

// apiFunc is a route handler that reports failures to the correlation
// boundary instead of writing them itself.
type apiFunc func(w http.ResponseWriter, r *http.Request) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth reports overall status from the storage probe. The response
// code mirrors the status so load balancers can act on it directly.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if err := s.gateway.CheckHealth(r.Context()); err != nil {
		s.logger.Warn("health check failed", observability.Fields{
			"request_id": RequestIDFromContext(r.Context()),
			"reason":     err.Error(),
		})
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Checks: map[string]string{"storage": "error"},
		})
		return nil
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status: "healthy",
		Checks: map[string]string{"storage": "ok"},
	})
	return nil
}

type initiateRequest struct {
	FileIDs []int64 `json:"file_ids"`
}

type initiateResponse struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	TotalFileIDs int    `json:"totalFileIds"`
}

// handleInitiate validates the batch and hands back a correlation token.
// There is no backing job store; the identifier exists so callers can tie
// later traffic to this request.
func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) error {
	var req initiateRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}

	if len(req.FileIDs) == 0 {
		return NewValidationError("file_ids must contain at least one identifier")
	}
	if len(req.FileIDs) > maxInitiateBatch {
		return NewValidationError("file_ids must contain at most %d identifiers", maxInitiateBatch)
	}
	for _, fileID := range req.FileIDs {
		if err := validateFileID(fileID); err != nil {
			return err
		}
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		JobID:        uuid.New().String(),
		Status:       "queued",
		TotalFileIDs: len(req.FileIDs),
	})
	return nil
}

type fileRequest struct {
	FileID int64 `json:"file_id"`
}

type checkResponse struct {
	FileID    int64   `json:"file_id"`
	Available bool    `json:"available"`
	S3Key     *string `json:"s3Key"`
	Size      *int64  `json:"size"`
}

// handleCheck resolves availability for a single file. The sentry_test query
// flag deliberately raises a synthetic failure so operators can verify the
// error-reporting integration end to end; it is never taken otherwise.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) error {
	var req fileRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := validateFileID(req.FileID); err != nil {
		return err
	}

	if r.URL.Query().Get("sentry_test") == "true" {
		return NewInternalError(fmt.Errorf("synthetic failure requested for file %d", req.FileID))
	}

	result, err := s.gateway.CheckAvailability(r.Context(), req.FileID)
	if err != nil {
		return err
	}

	resp := checkResponse{FileID: result.FileID, Available: result.Available}
	if result.Available {
		resp.S3Key = &result.StorageKey
		resp.Size = &result.Size
	}
	writeJSON(w, http.StatusOK, resp)
	return nil
}

type downloadOutcome struct {
	FileID           int64   `json:"file_id"`
	Status           string  `json:"status"`
	DownloadURL      *string `json:"downloadUrl"`
	Size             *int64  `json:"size"`
	ProcessingTimeMs int64   `json:"processingTimeMs"`
	Message          string  `json:"message"`
}

// handleStart simulates the long-running download: an optional randomized
// delay, then a real availability check. The wait suspends only this
// request; other requests keep flowing.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) error {
	var req fileRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if err := validateFileID(req.FileID); err != nil {
		return err
	}

	start := time.Now()

	if s.cfg.Delay.Enabled {
		if err := sleepContext(r.Context(), randomDelay(s.cfg.Delay.Min, s.cfg.Delay.Max)); err != nil {
			return err
		}
	}

	result, err := s.gateway.CheckAvailability(r.Context(), req.FileID)
	if err != nil {
		return err
	}

	outcome := downloadOutcome{
		FileID:           req.FileID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	if result.Available {
		url := s.gateway.ObjectURL(result.StorageKey)
		outcome.Status = "completed"
		outcome.DownloadURL = &url
		outcome.Size = &result.Size
		outcome.Message = fmt.Sprintf("File %d is ready for download", req.FileID)
	} else {
		outcome.Status = "failed"
		outcome.Message = fmt.Sprintf("File %d is not available in storage", req.FileID)
	}

	writeJSON(w, http.StatusOK, outcome)
	return nil
}

// decodeBody parses a JSON request body, mapping malformed input onto the
// validation taxonomy.
func decodeBody(r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	defer body.Close()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewValidationError("request body is required")
		}
		return NewValidationError("request body is not valid JSON: %v", err)
	}
	return nil
}

func validateFileID(fileID int64) error {
	if fileID <= 0 {
		return NewValidationError("file_id must be a positive integer")
	}
	if fileID > maxFileID {
		return NewValidationError("file_id must not exceed %d", maxFileID)
	}
	return nil
}

// randomDelay draws uniformly from [min, max].
func randomDelay(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}

// sleepContext waits for the duration unless the request is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
