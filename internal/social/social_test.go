package social

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/convgateway/core/internal/crypto"
	"github.com/convgateway/core/internal/domain"
)

type fakeBackend struct {
	byID  map[string]domain.SocialEvent
	chain map[string][]domain.SocialEvent // userID -> ordered chain
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{byID: make(map[string]domain.SocialEvent), chain: make(map[string][]domain.SocialEvent)}
}

func (b *fakeBackend) UpsertSocialEvent(ctx context.Context, event domain.SocialEvent) (domain.SocialEvent, error) {
	if existing, ok := b.byID[event.EventHash]; ok {
		return existing, nil
	}
	b.byID[event.EventHash] = event
	b.chain[event.UserID] = append(b.chain[event.UserID], event)
	return event, nil
}

func (b *fakeBackend) GetSocialEvent(ctx context.Context, eventID string) (*domain.SocialEvent, error) {
	e, ok := b.byID[eventID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (b *fakeBackend) LatestHashForUser(ctx context.Context, userID string) (string, error) {
	chain := b.chain[userID]
	if len(chain) == 0 {
		return "", nil
	}
	return chain[len(chain)-1].EventHash, nil
}

func (b *fakeBackend) ListChainForUser(ctx context.Context, userID string) ([]domain.SocialEvent, error) {
	return b.chain[userID], nil
}

func (b *fakeBackend) ListFeed(ctx context.Context, userID string, startTSMs int64, startEventID string, limit int64) ([]domain.SocialEvent, bool, error) {
	chain := b.chain[userID]
	var out []domain.SocialEvent
	for _, e := range chain {
		if e.TSMs > startTSMs || (e.TSMs == startTSMs && e.EventID > startEventID) {
			out = append(out, e)
		}
	}
	hasMore := int64(len(out)) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func newTestIdentity(t *testing.T) (userID string, priv ed25519.PrivateKey) {
	t.Helper()
	pub, pk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return crypto.EncodePublicKey(pub), pk
}

func publishSigned(t *testing.T, svc *Service, userID string, priv ed25519.PrivateKey, prevHash, kind string, payload map[string]any, tsMs int64) domain.SocialEvent {
	t.Helper()
	canonical, err := crypto.SocialEventCanonical(kind, payload, prevHash, tsMs, userID)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig := crypto.Sign(priv, canonical)
	event, err := svc.Publish(context.Background(), userID, kind, payload, tsMs, prevHash, sig)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	return event
}

func TestPublishRejectsBadSignature(t *testing.T) {
	userID, _ := newTestIdentity(t)
	svc := New(newFakeBackend())
	_, err := svc.Publish(context.Background(), userID, domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000, "", "not-a-real-signature")
	if err == nil {
		t.Error("expected signature verification to fail")
	}
}

func TestPublishRejectsMismatchedPrevHash(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())
	publishSigned(t, svc, userID, priv, "", domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000)

	canonical, err := crypto.SocialEventCanonical(domain.SocialKindDescription, map[string]any{"value": "hi"}, "stale-hash", 2000, userID)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig := crypto.Sign(priv, canonical)
	_, err = svc.Publish(context.Background(), userID, domain.SocialKindDescription, map[string]any{"value": "hi"}, 2000, "stale-hash", sig)
	if err == nil {
		t.Error("expected a stale prev_hash to be rejected")
	}
}

func TestPublishChainsPrevHash(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())

	first := publishSigned(t, svc, userID, priv, "", domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000)
	if first.PrevHash != "" {
		t.Errorf("expected empty prev_hash for the chain head, got %q", first.PrevHash)
	}

	second := publishSigned(t, svc, userID, priv, first.EventHash, domain.SocialKindDescription, map[string]any{"value": "hello"}, 2000)
	if second.PrevHash != first.EventHash {
		t.Errorf("expected second event to chain off the first, got prev_hash %q want %q", second.PrevHash, first.EventHash)
	}
}

func TestPublishIsIdempotentOnEventHash(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())
	canonical, err := crypto.SocialEventCanonical(domain.SocialKindUsername, map[string]any{"value": "alice"}, "", 1000, userID)
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	sig := crypto.Sign(priv, canonical)

	first, err := svc.Publish(context.Background(), userID, domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000, "", sig)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := svc.Publish(context.Background(), userID, domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000, "", sig)
	if err != nil {
		t.Fatalf("Publish (replay): %v", err)
	}
	if first.EventHash != second.EventHash {
		t.Errorf("expected identical event hash on replay, got %q vs %q", first.EventHash, second.EventHash)
	}
}

func TestProfileProjectsLastWriterWins(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())

	e1 := publishSigned(t, svc, userID, priv, "", domain.SocialKindUsername, map[string]any{"value": "alice"}, 1000)
	publishSigned(t, svc, userID, priv, e1.EventHash, domain.SocialKindUsername, map[string]any{"value": "alice2"}, 2000)

	view, err := svc.Profile(context.Background(), userID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if view.Username != "alice2" {
		t.Errorf("expected last-writer-wins username alice2, got %q", view.Username)
	}
}

func TestProfileTracksFollowUnfollow(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())

	e1 := publishSigned(t, svc, userID, priv, "", domain.SocialKindFollow, map[string]any{"target_user_id": "bob", "follow": true}, 1000)
	publishSigned(t, svc, userID, priv, e1.EventHash, domain.SocialKindFollow, map[string]any{"target_user_id": "carol", "follow": true}, 2000)

	view, err := svc.Profile(context.Background(), userID)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if len(view.Friends) != 2 {
		t.Fatalf("expected 2 friends, got %v", view.Friends)
	}
}

func TestEncodeDecodeCursorRoundTrip(t *testing.T) {
	cursor := EncodeCursor(5000, "event-abc")
	ts, eventID, err := DecodeCursor(cursor)
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if ts != 5000 || eventID != "event-abc" {
		t.Errorf("expected (5000, event-abc), got (%d, %q)", ts, eventID)
	}
}

func TestDecodeCursorEmptyIsStartOfTime(t *testing.T) {
	ts, eventID, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if ts != 0 || eventID != "" {
		t.Errorf("expected zero-value start cursor, got (%d, %q)", ts, eventID)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeCursor("not-valid-base64!!"); err == nil {
		t.Error("expected an error for a malformed cursor")
	}
}

func TestFeedReturnsNextCursorWhenMoreRemain(t *testing.T) {
	userID, priv := newTestIdentity(t)
	svc := New(newFakeBackend())
	e1 := publishSigned(t, svc, userID, priv, "", domain.SocialKindPost, map[string]any{"text": "first"}, 1000)
	publishSigned(t, svc, userID, priv, e1.EventHash, domain.SocialKindPost, map[string]any{"text": "second"}, 2000)

	events, nextCursor, hasMore, err := svc.Feed(context.Background(), userID, "", 1)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event for a page size of 1, got %d", len(events))
	}
	if !hasMore || nextCursor == "" {
		t.Error("expected hasMore and a non-empty next cursor")
	}
}
