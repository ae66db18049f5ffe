package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/convgateway/core/internal/crypto"
	"github.com/convgateway/core/internal/domain"
)

// CreateSession mints a fresh session/resume token pair, mirroring
// sqlite_sessions.py's create.
func (s *Store) CreateSession(ctx context.Context, userID, deviceID, clientLabel string, ttlMs, nowMs int64) (domain.Session, error) {
	sessionToken, err := crypto.RandomToken("st_")
	if err != nil {
		return domain.Session{}, err
	}
	resumeToken, err := crypto.RandomToken("rt_")
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{
		SessionToken: sessionToken,
		ResumeToken:  resumeToken,
		UserID:       userID,
		DeviceID:     deviceID,
		CreatedAtMs:  nowMs,
		LastSeenAtMs: nowMs,
		ClientLabel:  clientLabel,
		ExpiresAtMs:  nowMs + ttlMs,
	}
	err = s.retry(ctx, "CreateSession", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (session_token, resume_token, device_id, user_id, expires_at_ms, created_at_ms, last_seen_at_ms, client_label)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, sess.SessionToken, sess.ResumeToken, sess.DeviceID, sess.UserID, sess.ExpiresAtMs, sess.CreatedAtMs, sess.LastSeenAtMs, sess.ClientLabel)
		return err
	})
	if err != nil {
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var sess domain.Session
	err := row.Scan(&sess.SessionToken, &sess.ResumeToken, &sess.DeviceID, &sess.UserID,
		&sess.ExpiresAtMs, &sess.CreatedAtMs, &sess.LastSeenAtMs, &sess.ClientLabel)
	return sess, err
}

const sessionColumns = `session_token, resume_token, device_id, user_id, expires_at_ms, created_at_ms, last_seen_at_ms, client_label`

// GetBySession returns the session for a bearer token, or nil when
// missing or expired; expired rows are garbage-collected opportunistically.
func (s *Store) GetBySession(ctx context.Context, sessionToken string, nowMs int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_token=?`, sessionToken)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.ExpiresAtMs <= nowMs {
		_ = s.InvalidateToken(ctx, sess.SessionToken)
		return nil, nil
	}
	return &sess, nil
}

// TouchLastSeen records last_seen_at_ms for a session.
func (s *Store) TouchLastSeen(ctx context.Context, sessionToken string, nowMs int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at_ms=? WHERE session_token=?`, nowMs, sessionToken)
	if err != nil {
		return fmt.Errorf("touch last seen: %w", err)
	}
	return nil
}

// ConsumeResume atomically validates and rotates a resume token: the
// old resume token is invalidated in the same transaction a fresh one
// is issued, per §4.4's single-use rotation guarantee.
func (s *Store) ConsumeResume(ctx context.Context, resumeToken string, ttlMs, nowMs int64) (*domain.Session, error) {
	newResume, err := crypto.RandomToken("rt_")
	if err != nil {
		return nil, err
	}
	expiresAt := nowMs + ttlMs

	var result *domain.Session
	err = s.retry(ctx, "ConsumeResume", func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin resume tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE resume_token=?`, resumeToken)
		sess, scanErr := scanSession(row)
		if scanErr == sql.ErrNoRows {
			result = nil
			return tx.Commit()
		}
		if scanErr != nil {
			return fmt.Errorf("read session by resume: %w", scanErr)
		}
		if sess.ExpiresAtMs <= nowMs {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE resume_token=?`, resumeToken); err != nil {
				return fmt.Errorf("delete expired session: %w", err)
			}
			result = nil
			return tx.Commit()
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET resume_token=?, expires_at_ms=?, last_seen_at_ms=? WHERE resume_token=?`,
			newResume, expiresAt, nowMs, resumeToken); err != nil {
			return fmt.Errorf("rotate resume token: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit resume rotation: %w", err)
		}
		sess.ResumeToken = newResume
		sess.ExpiresAtMs = expiresAt
		sess.LastSeenAtMs = nowMs
		result = &sess
		return nil
	})
	return result, err
}

// ListSessionsForUser deletes expired rows then returns the remainder
// sorted (device_id asc, session_token asc), matching list_for_user.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string, nowMs int64) ([]domain.Session, error) {
	var out []domain.Session
	err := s.retry(ctx, "ListSessionsForUser", func() error {
		out = nil
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=? AND expires_at_ms<=?`, userID, nowMs); err != nil {
			return fmt.Errorf("expire sessions: %w", err)
		}
		rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id=? ORDER BY device_id ASC, session_token ASC`, userID)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return fmt.Errorf("scan session row: %w", err)
			}
			out = append(out, sess)
		}
		return rows.Err()
	})
	return out, err
}

// InvalidateToken removes a single session by its session token.
func (s *Store) InvalidateToken(ctx context.Context, sessionToken string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_token=?`, sessionToken)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	return nil
}

// InvalidateAllForUser removes every session for a user, optionally
// keeping one, returning the number removed.
func (s *Store) InvalidateAllForUser(ctx context.Context, userID, keepSessionToken string) (int64, error) {
	var res sql.Result
	var err error
	if keepSessionToken == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=?`, userID)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id=? AND session_token<>?`, userID, keepSessionToken)
	}
	if err != nil {
		return 0, fmt.Errorf("invalidate all sessions: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpiredSessions purges every session whose expiry has already
// passed; run eagerly at boot in addition to the lazy per-lookup check.
func (s *Store) DeleteExpiredSessions(ctx context.Context, nowMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at_ms<=?`, nowMs)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
