package storage

import (
	"context"

	"download-gateway/internal/observability"
)

// mockGateway computes availability deterministically without any network
// call: a file is available iff its identifier divides by 7. Health probes
// always succeed. This keeps the rest of the system, including tests,
// backend-agnostic.
type mockGateway struct {
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewMockGateway creates the no-backend gateway.
func NewMockGateway(logger observability.Logger, metrics *observability.Metrics) Gateway {
	return &mockGateway{logger: logger, metrics: metrics}
}

func (g *mockGateway) CheckHealth(ctx context.Context) error {
	g.metrics.RecordStorageOperation("health", "ok", 0)
	return nil
}

func (g *mockGateway) CheckAvailability(ctx context.Context, fileID int64) (AvailabilityResult, error) {
	result := AvailabilityResult{
		FileID:     fileID,
		Available:  fileID%7 == 0,
		StorageKey: ObjectKey(fileID),
	}
	if result.Available {
		result.Size = mockObjectSize(fileID)
	}

	g.metrics.RecordStorageOperation("availability", "ok", 0)
	g.logger.Debug("mock availability computed", observability.Fields{
		"file_id":   fileID,
		"available": result.Available,
	})

	return result, nil
}

func (g *mockGateway) ObjectURL(key string) string {
	return "https://storage.local/mock-bucket/" + key
}

func (g *mockGateway) Close() error { return nil }

// mockObjectSize derives a stable fake size so repeated lookups of the same
// file report the same bytes.
func mockObjectSize(fileID int64) int64 {
	return (fileID%100 + 1) * 512 * 1024
}
