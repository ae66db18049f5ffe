package keypackages

import (
	"context"
	"testing"

	"github.com/convgateway/core/internal/domain"
)

type fakeBackend struct {
	pool map[string][]domain.Keypackage // userID -> unissued keypackages
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pool: make(map[string][]domain.Keypackage)}
}

func (b *fakeBackend) PublishKeypackages(ctx context.Context, userID, deviceID string, keypackagesB64 []string, nowMs int64) error {
	for i, kp := range keypackagesB64 {
		b.pool[userID] = append(b.pool[userID], domain.Keypackage{
			UserID: userID, DeviceID: deviceID, KpID: int64(len(b.pool[userID]) + i), KpB64: kp, CreatedMs: nowMs,
		})
	}
	return nil
}

func (b *fakeBackend) FetchKeypackages(ctx context.Context, userID string, count int64, nowMs int64) ([]domain.Keypackage, error) {
	all := b.pool[userID]
	n := int(count)
	if n > len(all) {
		n = len(all)
	}
	out := append([]domain.Keypackage(nil), all[:n]...)
	b.pool[userID] = all[n:]
	return out, nil
}

func (b *fakeBackend) RotateKeypackages(ctx context.Context, userID, deviceID string, revoke bool, replacementB64 []string, nowMs int64) error {
	if revoke {
		var remaining []domain.Keypackage
		for _, kp := range b.pool[userID] {
			if kp.DeviceID != deviceID {
				remaining = append(remaining, kp)
			}
		}
		b.pool[userID] = remaining
	}
	return b.PublishKeypackages(ctx, userID, deviceID, replacementB64, nowMs)
}

func (b *fakeBackend) CountAvailableKeypackages(ctx context.Context, userID string) (int64, error) {
	return int64(len(b.pool[userID])), nil
}

func TestPublishRejectsEmptyBatch(t *testing.T) {
	svc := New(newFakeBackend())
	if err := svc.Publish(context.Background(), "user-1", "device-1", nil); err == nil {
		t.Error("expected an error for an empty keypackage batch")
	}
}

func TestPublishThenFetch(t *testing.T) {
	svc := New(newFakeBackend())
	ctx := context.Background()
	if err := svc.Publish(ctx, "user-1", "device-1", []string{"kp1", "kp2", "kp3"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	kps, err := svc.Fetch(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(kps) != 2 {
		t.Fatalf("expected 2 keypackages, got %d", len(kps))
	}

	available, err := svc.AvailableCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("AvailableCount: %v", err)
	}
	if available != 1 {
		t.Errorf("expected 1 remaining keypackage, got %d", available)
	}
}

func TestFetchRejectsNonPositiveCount(t *testing.T) {
	svc := New(newFakeBackend())
	if _, err := svc.Fetch(context.Background(), "user-1", 0); err == nil {
		t.Error("expected an error for a non-positive count")
	}
}

func TestRotateWithRevokeDropsOldDeviceBatch(t *testing.T) {
	svc := New(newFakeBackend())
	ctx := context.Background()
	if err := svc.Publish(ctx, "user-1", "device-old", []string{"a", "b"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if err := svc.Rotate(ctx, "user-1", "device-old", true, []string{"c", "d", "e"}); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	available, err := svc.AvailableCount(ctx, "user-1")
	if err != nil {
		t.Fatalf("AvailableCount: %v", err)
	}
	if available != 3 {
		t.Errorf("expected only the 3 replacement keypackages to remain, got %d", available)
	}
}
