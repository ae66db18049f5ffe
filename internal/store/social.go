package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/convgateway/core/internal/domain"
)

// UpsertSocialEvent inserts a signed social event if its event id
// (= event hash) isn't already present, returning the stored event
// either way -- idempotent the same way social.py's upsert_event is.
func (s *Store) UpsertSocialEvent(ctx context.Context, event domain.SocialEvent) (domain.SocialEvent, error) {
	bodyJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return domain.SocialEvent{}, fmt.Errorf("marshal event payload: %w", err)
	}

	var result domain.SocialEvent
	err = s.retry(ctx, "UpsertSocialEvent", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin upsert event tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		existing, err := scanSocialEvent(tx.QueryRowContext(ctx,
			`SELECT event_id, user_id, ts_ms, kind, body_json, prev_hash, pub_key_b64, sig_b64 FROM social_events WHERE event_id=?`,
			event.EventID))
		if err == nil {
			result = existing
			return tx.Commit()
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check existing social event: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO social_events (event_id, user_id, ts_ms, kind, body_json, prev_hash, pub_key_b64, sig_b64)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, event.EventID, event.UserID, event.TSMs, event.Kind, string(bodyJSON), event.PrevHash, event.UserID, event.SigB64); err != nil {
			return fmt.Errorf("insert social event: %w", err)
		}
		result = event
		return tx.Commit()
	})
	return result, err
}

func scanSocialEvent(row *sql.Row) (domain.SocialEvent, error) {
	var e domain.SocialEvent
	var bodyJSON, pubKeyB64 string
	if err := row.Scan(&e.EventID, &e.UserID, &e.TSMs, &e.Kind, &bodyJSON, &e.PrevHash, &pubKeyB64, &e.SigB64); err != nil {
		return domain.SocialEvent{}, err
	}
	if err := json.Unmarshal([]byte(bodyJSON), &e.Payload); err != nil {
		return domain.SocialEvent{}, fmt.Errorf("unmarshal event payload: %w", err)
	}
	e.EventHash = e.EventID
	return e, nil
}

// GetSocialEvent looks up one event by id, nil if absent.
func (s *Store) GetSocialEvent(ctx context.Context, eventID string) (*domain.SocialEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT event_id, user_id, ts_ms, kind, body_json, prev_hash, pub_key_b64, sig_b64 FROM social_events WHERE event_id=?`,
		eventID)
	e, err := scanSocialEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get social event: %w", err)
	}
	return &e, nil
}

// LatestHashForUser returns the event_id of a user's most recent event
// in chain order, "" if they have none yet -- the prev_hash the next
// published event must reference.
func (s *Store) LatestHashForUser(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM social_events WHERE user_id=? ORDER BY ts_ms DESC, event_id DESC LIMIT 1`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read latest hash: %w", err)
	}
	return id, nil
}

// ListChainForUser returns every event in a user's chain in chronological
// order, for profile last-writer-wins projection.
func (s *Store) ListChainForUser(ctx context.Context, userID string) ([]domain.SocialEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, ts_ms, kind, body_json, prev_hash, pub_key_b64, sig_b64
		FROM social_events WHERE user_id=? ORDER BY ts_ms ASC, event_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list chain: %w", err)
	}
	defer rows.Close()
	var out []domain.SocialEvent
	for rows.Next() {
		var e domain.SocialEvent
		var bodyJSON, pubKeyB64 string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.TSMs, &e.Kind, &bodyJSON, &e.PrevHash, &pubKeyB64, &e.SigB64); err != nil {
			return nil, fmt.Errorf("scan chain event: %w", err)
		}
		if err := json.Unmarshal([]byte(bodyJSON), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal chain event payload: %w", err)
		}
		e.EventHash = e.EventID
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListFeed returns events for user_id strictly after the (startTSMs,
// startEventID) cursor, chronological order, plus whether more remain.
// One extra row is fetched to detect the has_more flag without a
// separate COUNT query, same trick as social.py's list_feed.
func (s *Store) ListFeed(ctx context.Context, userID string, startTSMs int64, startEventID string, limit int64) ([]domain.SocialEvent, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, ts_ms, kind, body_json, prev_hash, pub_key_b64, sig_b64
		FROM social_events
		WHERE user_id=? AND (ts_ms > ? OR (ts_ms = ? AND event_id > ?))
		ORDER BY ts_ms ASC, event_id ASC
		LIMIT ?
	`, userID, startTSMs, startTSMs, startEventID, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()
	var out []domain.SocialEvent
	for rows.Next() {
		var e domain.SocialEvent
		var bodyJSON, pubKeyB64 string
		if err := rows.Scan(&e.EventID, &e.UserID, &e.TSMs, &e.Kind, &bodyJSON, &e.PrevHash, &pubKeyB64, &e.SigB64); err != nil {
			return nil, false, fmt.Errorf("scan feed event: %w", err)
		}
		if err := json.Unmarshal([]byte(bodyJSON), &e.Payload); err != nil {
			return nil, false, fmt.Errorf("unmarshal feed event payload: %w", err)
		}
		e.EventHash = e.EventID
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := int64(len(out)) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}
