// Package cursors is a thin service-layer wrapper over the durable
// per-device delivery cursor (§4.3), adding nothing beyond current-time
// plumbing -- kept as its own package because internal/transport and
// internal/convsvc both depend on it and neither should import
// internal/store directly.
package cursors

import (
	"context"
	"fmt"

	"github.com/convgateway/core/internal/domain"
)

// storeBackend adapts internal/store.Store's concrete CursorRow slice
// return to the structurally-typed slice Backend declares.
type storeBackend interface {
	AckCursor(ctx context.Context, deviceID, convID string, ackedSeq, nowMs int64) (int64, error)
	NextSeq(ctx context.Context, deviceID, convID string) (int64, error)
}

// Service exposes cursor operations to the transport and convsvc layers.
type Service struct {
	backend storeBackend
	lister  func(ctx context.Context, deviceID string) ([]CursorRow, error)
}

// CursorRow is one (conv_id, next_seq) pair for a device.
type CursorRow struct {
	ConvID  string
	NextSeq int64
}

// New builds a Service. lister adapts the store's ListCursors (whose
// concrete row type lives in internal/store) to cursors.CursorRow.
func New(backend storeBackend, lister func(ctx context.Context, deviceID string) ([]CursorRow, error)) *Service {
	return &Service{backend: backend, lister: lister}
}

// Ack advances deviceID's cursor for convID, clamped to monotonic.
func (s *Service) Ack(ctx context.Context, deviceID, convID string, ackedSeq int64) (int64, error) {
	next, err := s.backend.AckCursor(ctx, deviceID, convID, ackedSeq, domain.NowMs())
	if err != nil {
		return 0, fmt.Errorf("ack cursor: %w", err)
	}
	return next, nil
}

// NextSeq returns a device's next_seq for a conversation, default 1.
func (s *Service) NextSeq(ctx context.Context, deviceID, convID string) (int64, error) {
	return s.backend.NextSeq(ctx, deviceID, convID)
}

// List returns every cursor a device holds.
func (s *Service) List(ctx context.Context, deviceID string) ([]CursorRow, error) {
	if s.lister == nil {
		return nil, nil
	}
	return s.lister(ctx, deviceID)
}
