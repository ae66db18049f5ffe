// Package sessionsvc implements the session lifecycle (§4.4): minting a
// session/resume token pair after auth_token verification, atomic
// resume rotation, and bearer authentication for every other endpoint.
package sessionsvc

import (
	"context"
	"fmt"
	"sort"

	"github.com/convgateway/core/internal/crypto"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

// Backend is the subset of internal/store.Store sessionsvc needs.
type Backend interface {
	CreateSession(ctx context.Context, userID, deviceID, clientLabel string, ttlMs, nowMs int64) (domain.Session, error)
	GetBySession(ctx context.Context, sessionToken string, nowMs int64) (*domain.Session, error)
	TouchLastSeen(ctx context.Context, sessionToken string, nowMs int64) error
	ConsumeResume(ctx context.Context, resumeToken string, ttlMs, nowMs int64) (*domain.Session, error)
	ListSessionsForUser(ctx context.Context, userID string, nowMs int64) ([]domain.Session, error)
	InvalidateToken(ctx context.Context, sessionToken string) error
	InvalidateAllForUser(ctx context.Context, userID, keepSessionToken string) (int64, error)
	DeleteExpiredSessions(ctx context.Context, nowMs int64) (int64, error)
}

// Service implements the session lifecycle over a Backend.
type Service struct {
	backend Backend
	ttlMs   int64
}

// New builds a Service whose sessions live for ttlMs milliseconds
// before they must be resumed.
func New(backend Backend, ttlMs int64) *Service {
	return &Service{backend: backend, ttlMs: ttlMs}
}

// Start mints a fresh session/resume token pair for an already-verified
// user/device pair.
func (s *Service) Start(ctx context.Context, userID, deviceID, clientLabel string) (domain.Session, error) {
	if userID == "" || deviceID == "" {
		return domain.Session{}, gatewayerr.Invalid("user_id and device_id are required")
	}
	return s.backend.CreateSession(ctx, userID, deviceID, clientLabel, s.ttlMs, domain.NowMs())
}

// Authenticate validates a bearer session_token, touching its
// last_seen_at_ms as a side effect; implements auth.SessionLookup.
func (s *Service) Authenticate(ctx context.Context, sessionToken string) (*domain.Session, error) {
	sess, err := s.backend.GetBySession(ctx, sessionToken, domain.NowMs())
	if err != nil {
		return nil, fmt.Errorf("authenticate session: %w", err)
	}
	if sess == nil {
		return nil, gatewayerr.Unauthorized("session not found or expired")
	}
	_ = s.backend.TouchLastSeen(ctx, sessionToken, domain.NowMs())
	return sess, nil
}

// Resume atomically validates and rotates a resume token.
func (s *Service) Resume(ctx context.Context, resumeToken string) (domain.Session, error) {
	sess, err := s.backend.ConsumeResume(ctx, resumeToken, s.ttlMs, domain.NowMs())
	if err != nil {
		return domain.Session{}, fmt.Errorf("resume session: %w", err)
	}
	if sess == nil {
		return domain.Session{}, gatewayerr.Unauthorized("resume token not found or expired")
	}
	return *sess, nil
}

// List returns a user's sessions in the redacted list.sessions shape,
// marking currentSessionToken as the caller's own and sorted
// (is_current desc, device_id asc, session_id asc).
func (s *Service) List(ctx context.Context, userID, currentSessionToken string) ([]domain.SessionListItem, error) {
	sessions, err := s.backend.ListSessionsForUser(ctx, userID, domain.NowMs())
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]domain.SessionListItem, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, domain.SessionListItem{
			SessionID:    crypto.DeriveSessionID(sess.SessionToken),
			DeviceID:     sess.DeviceID,
			ExpiresAtMs:  sess.ExpiresAtMs,
			IsCurrent:    sess.SessionToken == currentSessionToken,
			CreatedAtMs:  sess.CreatedAtMs,
			LastSeenAtMs: sess.LastSeenAtMs,
			ClientLabel:  sess.ClientLabel,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsCurrent != out[j].IsCurrent {
			return out[i].IsCurrent
		}
		if out[i].DeviceID != out[j].DeviceID {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// Revoke deletes sessions matching sessionID (session.list's derived
// id) or deviceID for userID, refusing to revoke the caller's own
// session unless includeSelf is set. Returns the derived session ids
// actually revoked.
func (s *Service) Revoke(ctx context.Context, userID, currentSessionToken, sessionID, deviceID string, includeSelf bool) ([]string, error) {
	if sessionID == "" && deviceID == "" {
		return nil, gatewayerr.Invalid("session_id or device_id is required")
	}
	sessions, err := s.backend.ListSessionsForUser(ctx, userID, domain.NowMs())
	if err != nil {
		return nil, fmt.Errorf("list sessions for revoke: %w", err)
	}

	var revokedIDs []string
	for _, sess := range sessions {
		derivedID := crypto.DeriveSessionID(sess.SessionToken)
		matches := (sessionID != "" && derivedID == sessionID) || (deviceID != "" && sess.DeviceID == deviceID)
		if !matches {
			continue
		}
		if sess.SessionToken == currentSessionToken && !includeSelf {
			continue
		}
		if err := s.backend.InvalidateToken(ctx, sess.SessionToken); err != nil {
			return revokedIDs, fmt.Errorf("invalidate session: %w", err)
		}
		revokedIDs = append(revokedIDs, derivedID)
	}
	return revokedIDs, nil
}

// Logout invalidates the caller's own session.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	return s.backend.InvalidateToken(ctx, sessionToken)
}

// LogoutAllOtherDevices revokes every other session for a user, keeping
// the caller's own.
func (s *Service) LogoutAllOtherDevices(ctx context.Context, userID, keepSessionToken string) (int64, error) {
	return s.backend.InvalidateAllForUser(ctx, userID, keepSessionToken)
}

// SweepExpired purges every already-expired session; runtime.New runs
// it once at boot in addition to the lazy per-authenticate check (a supplement beyond
// the Python original, see SPEC_FULL.md).
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.backend.DeleteExpiredSessions(ctx, domain.NowMs())
}
