// Package storage abstracts the object store behind a narrow Gateway
// capability. Handlers only ever ask whether the store is reachable and
// whether a file exists; they never see the underlying client. The mock and
// live implementations are selected once at construction time from
// configuration, so no backend conditionals leak into the request path.
package storage

import (
	"context"
	"errors"
	"fmt"

	"download-gateway/internal/config"
	"download-gateway/internal/observability"
)

// ErrStoreUnavailable indicates the backend could not be reached or refused
// the probe. Not-found responses are never mapped to this error.
var ErrStoreUnavailable = errors.New("object store unavailable")

// AvailabilityResult reports the outcome of a single file lookup.
// Size is meaningful only when Available is true.
type AvailabilityResult struct {
	FileID     int64
	Available  bool
	StorageKey string
	Size       int64
}

// Gateway is the capability surface handlers consume. CheckHealth returns
// nil when the store is reachable. Implementations are safe for concurrent
// use and immutable after construction.
type Gateway interface {
	CheckHealth(ctx context.Context) error
	CheckAvailability(ctx context.Context, fileID int64) (AvailabilityResult, error)

	// ObjectURL renders the externally presentable URL for a stored key.
	ObjectURL(key string) string

	Close() error
}

// healthMarkerKey is the well-known object probed by health checks. The
// marker being absent is expected; only transport or auth failures count
// as unhealthy.
const healthMarkerKey = ".healthcheck"

// ObjectKey renders the deterministic storage key for a file identifier.
// The identifier is already a validated positive integer, so the key can
// never carry path or query injection.
func ObjectKey(fileID int64) string {
	return fmt.Sprintf("files/%d/archive.zip", fileID)
}

// NewGateway selects the gateway implementation from configuration: an
// empty bucket name means no backend is configured and the deterministic
// mock is used instead.
func NewGateway(ctx context.Context, cfg config.StorageSettings, logger observability.Logger, metrics *observability.Metrics) (Gateway, error) {
	if cfg.MockMode() {
		logger.Info("storage gateway running in mock mode", observability.Fields{
			"region": cfg.Region,
		})
		return NewMockGateway(logger, metrics), nil
	}
	return NewS3Gateway(ctx, cfg, logger, metrics)
}
