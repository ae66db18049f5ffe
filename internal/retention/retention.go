// Package retention prunes conversation logs on a ticker, adapted from
// the teacher's container TTL worker (internal/container/ttl.go):
// same ticker-goroutine-context shape, generalized from "stop stale
// containers" to "delete conv_events rows past the retention policy"
// (§4.6).
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/convgateway/core/internal/domain"
)

// Policy is the retention configuration for one sweep pass.
type Policy struct {
	MaxEventsPerConv int64
	MaxAgeS          int64
	HardLimits       bool
	SweepIntervalS   int64
}

// Backend is the subset of internal/store.Store the sweeper needs.
type Backend interface {
	ListConvIDs(ctx context.Context) ([]string, error)
	PruneConv(ctx context.Context, convID string, maxEventsPerConv, maxAgeMs int64, hardLimits bool, nowMs int64, activeMinNextSeq *int64) (int64, error)
	ActiveMinNextSeq(ctx context.Context, convID string, nowMs, cursorStaleAfterMs int64) (*int64, error)
}

// Sweeper periodically prunes every known conversation's log.
type Sweeper struct {
	backend            Backend
	policy             Policy
	cursorStaleAfterMs int64
}

// New builds a Sweeper. cursorStaleAfterMs feeds ActiveMinNextSeq's
// staleness cutoff when policy.HardLimits is false (the "safe mode"
// clamp that never deletes events an active cursor still needs).
func New(backend Backend, policy Policy, cursorStaleAfterMs int64) *Sweeper {
	return &Sweeper{backend: backend, policy: policy, cursorStaleAfterMs: cursorStaleAfterMs}
}

// Start launches the sweep loop in a goroutine; it returns once ctx is
// canceled.
func (sw *Sweeper) Start(ctx context.Context) {
	interval := time.Duration(sw.policy.SweepIntervalS) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("retention sweeper started", "interval", interval, "max_events_per_conv", sw.policy.MaxEventsPerConv, "max_age_s", sw.policy.MaxAgeS)
		for {
			select {
			case <-ticker.C:
				sw.sweepOnce(ctx)
			case <-ctx.Done():
				slog.Info("retention sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (sw *Sweeper) sweepOnce(ctx context.Context) {
	convIDs, err := sw.backend.ListConvIDs(ctx)
	if err != nil {
		slog.Error("retention sweeper failed to list conversations", "error", err)
		return
	}
	if len(convIDs) == 0 {
		return
	}

	nowMs := domain.NowMs()
	maxAgeMs := int64(0)
	if sw.policy.MaxAgeS > 0 {
		maxAgeMs = sw.policy.MaxAgeS * 1000
	}

	var totalPruned int64
	for _, convID := range convIDs {
		var activeMin *int64
		if !sw.policy.HardLimits {
			activeMin, err = sw.backend.ActiveMinNextSeq(ctx, convID, nowMs, sw.cursorStaleAfterMs)
			if err != nil {
				slog.Error("retention sweeper failed to read active cursor floor", "conv_id", convID, "error", err)
				continue
			}
		}
		pruned, err := sw.backend.PruneConv(ctx, convID, sw.policy.MaxEventsPerConv, maxAgeMs, sw.policy.HardLimits, nowMs, activeMin)
		if err != nil {
			slog.Error("retention sweeper failed to prune conversation", "conv_id", convID, "error", err)
			continue
		}
		totalPruned += pruned
	}
	if totalPruned > 0 {
		slog.Info("retention sweep completed", "conversations", len(convIDs), "events_pruned", totalPruned)
	}
}
