package sessionsvc

import (
	"context"
	"testing"

	"github.com/convgateway/core/internal/domain"
)

type fakeBackend struct {
	sessions map[string]*domain.Session // by session_token
	resumes  map[string]string          // resume_token -> session_token
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*domain.Session), resumes: make(map[string]string)}
}

func (b *fakeBackend) CreateSession(ctx context.Context, userID, deviceID, clientLabel string, ttlMs, nowMs int64) (domain.Session, error) {
	sess := domain.Session{
		SessionToken: "st_" + deviceID,
		ResumeToken:  "rt_" + deviceID,
		UserID:       userID,
		DeviceID:     deviceID,
		ClientLabel:  clientLabel,
		CreatedAtMs:  nowMs,
		LastSeenAtMs: nowMs,
		ExpiresAtMs:  nowMs + ttlMs,
	}
	b.sessions[sess.SessionToken] = &sess
	b.resumes[sess.ResumeToken] = sess.SessionToken
	return sess, nil
}

func (b *fakeBackend) GetBySession(ctx context.Context, sessionToken string, nowMs int64) (*domain.Session, error) {
	sess, ok := b.sessions[sessionToken]
	if !ok || sess.ExpiresAtMs < nowMs {
		return nil, nil
	}
	return sess, nil
}

func (b *fakeBackend) TouchLastSeen(ctx context.Context, sessionToken string, nowMs int64) error {
	if sess, ok := b.sessions[sessionToken]; ok {
		sess.LastSeenAtMs = nowMs
	}
	return nil
}

func (b *fakeBackend) ConsumeResume(ctx context.Context, resumeToken string, ttlMs, nowMs int64) (*domain.Session, error) {
	sessionToken, ok := b.resumes[resumeToken]
	if !ok {
		return nil, nil
	}
	sess := b.sessions[sessionToken]
	delete(b.resumes, resumeToken)
	sess.ResumeToken = resumeToken + "_r"
	sess.ExpiresAtMs = nowMs + ttlMs
	sess.LastSeenAtMs = nowMs
	b.resumes[sess.ResumeToken] = sessionToken
	rotated := *sess
	return &rotated, nil
}

func (b *fakeBackend) ListSessionsForUser(ctx context.Context, userID string, nowMs int64) ([]domain.Session, error) {
	var out []domain.Session
	for _, sess := range b.sessions {
		if sess.UserID == userID {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (b *fakeBackend) InvalidateToken(ctx context.Context, sessionToken string) error {
	if sess, ok := b.sessions[sessionToken]; ok {
		delete(b.resumes, sess.ResumeToken)
		delete(b.sessions, sessionToken)
	}
	return nil
}

func (b *fakeBackend) InvalidateAllForUser(ctx context.Context, userID, keepSessionToken string) (int64, error) {
	var n int64
	for token, sess := range b.sessions {
		if sess.UserID == userID && token != keepSessionToken {
			delete(b.sessions, token)
			n++
		}
	}
	return n, nil
}

func (b *fakeBackend) DeleteExpiredSessions(ctx context.Context, nowMs int64) (int64, error) {
	var n int64
	for token, sess := range b.sessions {
		if sess.ExpiresAtMs < nowMs {
			delete(b.sessions, token)
			n++
		}
	}
	return n, nil
}

func TestStartRequiresUserAndDevice(t *testing.T) {
	svc := New(newFakeBackend(), 60_000)
	if _, err := svc.Start(context.Background(), "", "device-1", ""); err == nil {
		t.Error("expected an error for an empty user_id")
	}
}

func TestStartAndAuthenticate(t *testing.T) {
	svc := New(newFakeBackend(), 60_000)
	ctx := context.Background()

	sess, err := svc.Start(ctx, "user-1", "device-1", "test-client")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	authed, err := svc.Authenticate(ctx, sess.SessionToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if authed.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", authed.UserID)
	}
}

func TestAuthenticateUnknownTokenIsUnauthorized(t *testing.T) {
	svc := New(newFakeBackend(), 60_000)
	if _, err := svc.Authenticate(context.Background(), "st_missing"); err == nil {
		t.Error("expected an error for an unknown session token")
	}
}

func TestResumeRotatesToken(t *testing.T) {
	svc := New(newFakeBackend(), 60_000)
	ctx := context.Background()
	sess, err := svc.Start(ctx, "user-1", "device-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	resumed, err := svc.Resume(ctx, sess.ResumeToken)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.ResumeToken == sess.ResumeToken {
		t.Error("expected resume to rotate to a new resume token")
	}

	if _, err := svc.Resume(ctx, sess.ResumeToken); err == nil {
		t.Error("expected the old resume token to no longer resume")
	}
}

func TestResumeUnknownTokenIsUnauthorized(t *testing.T) {
	svc := New(newFakeBackend(), 60_000)
	if _, err := svc.Resume(context.Background(), "rt_missing"); err == nil {
		t.Error("expected an error for an unknown resume token")
	}
}

func TestRevokeRefusesOwnSessionWithoutIncludeSelf(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 60_000)
	ctx := context.Background()
	sess, err := svc.Start(ctx, "user-1", "device-1", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	list, err := svc.List(ctx, "user-1", sess.SessionToken)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || !list[0].IsCurrent {
		t.Fatalf("expected one current session, got %+v", list)
	}

	revoked, err := svc.Revoke(ctx, "user-1", sess.SessionToken, list[0].SessionID, "", false)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(revoked) != 0 {
		t.Errorf("expected revoke to skip the caller's own session, got %v", revoked)
	}

	if _, err := svc.Authenticate(ctx, sess.SessionToken); err != nil {
		t.Error("expected the own session to remain valid")
	}
}

func TestRevokeByDeviceID(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 60_000)
	ctx := context.Background()
	a, err := svc.Start(ctx, "user-1", "device-a", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = svc.Start(ctx, "user-1", "device-b", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	revoked, err := svc.Revoke(ctx, "user-1", a.SessionToken, "", "device-b", false)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(revoked) != 1 {
		t.Fatalf("expected exactly one revoked session, got %v", revoked)
	}
}

func TestLogoutAllOtherDevicesKeepsCaller(t *testing.T) {
	backend := newFakeBackend()
	svc := New(backend, 60_000)
	ctx := context.Background()
	a, err := svc.Start(ctx, "user-1", "device-a", "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := svc.Start(ctx, "user-1", "device-b", ""); err != nil {
		t.Fatalf("Start: %v", err)
	}

	n, err := svc.LogoutAllOtherDevices(ctx, "user-1", a.SessionToken)
	if err != nil {
		t.Fatalf("LogoutAllOtherDevices: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 other device logged out, got %d", n)
	}
	if _, err := svc.Authenticate(ctx, a.SessionToken); err != nil {
		t.Error("expected caller's own session to remain valid")
	}
}
