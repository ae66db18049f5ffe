// Package keypackages implements the one-time pre-key pool (§4.7):
// publish, per-user fetch-across-devices, and rotate.
package keypackages

import (
	"context"
	"fmt"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

// Backend is the subset of internal/store.Store keypackages needs.
type Backend interface {
	PublishKeypackages(ctx context.Context, userID, deviceID string, keypackagesB64 []string, nowMs int64) error
	FetchKeypackages(ctx context.Context, userID string, count int64, nowMs int64) ([]domain.Keypackage, error)
	RotateKeypackages(ctx context.Context, userID, deviceID string, revoke bool, replacementB64 []string, nowMs int64) error
	CountAvailableKeypackages(ctx context.Context, userID string) (int64, error)
}

// LowWatermark is the available-count below which fetch callers should
// be nudged to publish more (surfaced to the transport layer, not
// enforced here).
const LowWatermark = 10

// Service implements the keypackage pool.
type Service struct {
	backend Backend
}

// New builds a Service.
func New(backend Backend) *Service {
	return &Service{backend: backend}
}

// Publish appends freshly generated keypackages for a device.
func (s *Service) Publish(ctx context.Context, userID, deviceID string, keypackagesB64 []string) error {
	if len(keypackagesB64) == 0 {
		return gatewayerr.Invalid("keypackages must not be empty")
	}
	return s.backend.PublishKeypackages(ctx, userID, deviceID, keypackagesB64, domain.NowMs())
}

// Fetch issues up to count unissued keypackages for userID across all
// of their devices.
func (s *Service) Fetch(ctx context.Context, userID string, count int64) ([]domain.Keypackage, error) {
	if count <= 0 {
		return nil, gatewayerr.Invalid("count must be positive")
	}
	kps, err := s.backend.FetchKeypackages(ctx, userID, count, domain.NowMs())
	if err != nil {
		return nil, fmt.Errorf("fetch keypackages: %w", err)
	}
	return kps, nil
}

// Rotate optionally revokes a device's unissued keypackages and
// publishes a replacement batch.
func (s *Service) Rotate(ctx context.Context, userID, deviceID string, revoke bool, replacementB64 []string) error {
	return s.backend.RotateKeypackages(ctx, userID, deviceID, revoke, replacementB64, domain.NowMs())
}

// AvailableCount reports how many unissued keypackages a user has left.
func (s *Service) AvailableCount(ctx context.Context, userID string) (int64, error) {
	return s.backend.CountAvailableKeypackages(ctx, userID)
}
