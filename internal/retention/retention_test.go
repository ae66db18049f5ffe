package retention

import (
	"context"
	"sync"
	"testing"
)

type fakeBackend struct {
	mu          sync.Mutex
	convIDs     []string
	pruneCalls  []string
	activeMin   map[string]*int64
	pruneAmount int64
}

func (b *fakeBackend) ListConvIDs(ctx context.Context) ([]string, error) {
	return b.convIDs, nil
}

func (b *fakeBackend) ActiveMinNextSeq(ctx context.Context, convID string, nowMs, cursorStaleAfterMs int64) (*int64, error) {
	return b.activeMin[convID], nil
}

func (b *fakeBackend) PruneConv(ctx context.Context, convID string, maxEventsPerConv, maxAgeMs int64, hardLimits bool, nowMs int64, activeMinNextSeq *int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneCalls = append(b.pruneCalls, convID)
	return b.pruneAmount, nil
}

func TestSweepOnceVisitsEveryConversation(t *testing.T) {
	backend := &fakeBackend{convIDs: []string{"conv-a", "conv-b"}, activeMin: map[string]*int64{}}
	sw := New(backend, Policy{MaxEventsPerConv: 100, HardLimits: true, SweepIntervalS: 60}, 0)

	sw.sweepOnce(context.Background())

	if len(backend.pruneCalls) != 2 {
		t.Fatalf("expected 2 prune calls, got %d (%v)", len(backend.pruneCalls), backend.pruneCalls)
	}
}

func TestSweepOnceSkipsActiveCursorLookupUnderHardLimits(t *testing.T) {
	backend := &fakeBackend{convIDs: []string{"conv-a"}, activeMin: map[string]*int64{}}
	sw := New(backend, Policy{MaxEventsPerConv: 10, HardLimits: true, SweepIntervalS: 60}, 3600_000)

	sw.sweepOnce(context.Background())

	if len(backend.pruneCalls) != 1 {
		t.Fatalf("expected 1 prune call, got %d", len(backend.pruneCalls))
	}
}

func TestSweepOnceNoConversationsIsNoOp(t *testing.T) {
	backend := &fakeBackend{convIDs: nil}
	sw := New(backend, Policy{MaxEventsPerConv: 10, SweepIntervalS: 60}, 0)

	sw.sweepOnce(context.Background())

	if len(backend.pruneCalls) != 0 {
		t.Errorf("expected no prune calls with no conversations, got %d", len(backend.pruneCalls))
	}
}
