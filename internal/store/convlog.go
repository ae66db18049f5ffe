package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/convgateway/core/internal/domain"
)

// AppendEvent appends an event atomically and enforces idempotency on
// (conv_id, msg_id), mirroring sqlite_log.py's append: check for an
// existing row, otherwise allocate the next seq and insert. Storage
// atomicity comes from the single shared connection (one transaction
// holds it for the whole call); per-conv_id application-level
// serialization is the caller's (internal/convlog) responsibility, per
// Design Notes "Per-conversation critical section".
func (s *Store) AppendEvent(ctx context.Context, convID, msgID, envB64, senderDeviceID string, tsMs int64) (event domain.ConversationEvent, created bool, err error) {
	err = s.retry(ctx, "AppendEvent", func() error {
		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("begin append tx: %w", txErr)
		}
		defer func() { _ = tx.Rollback() }()

		var existingSeq int64
		var existingEnv, existingSender string
		var existingTS int64
		row := tx.QueryRowContext(ctx,
			`SELECT seq, env_b64, sender_device_id, ts_ms FROM conv_events WHERE conv_id=? AND msg_id=?`,
			convID, msgID)
		scanErr := row.Scan(&existingSeq, &existingEnv, &existingSender, &existingTS)
		if scanErr == nil {
			event = domain.ConversationEvent{
				ConvID: convID, Seq: existingSeq, MsgID: msgID,
				EnvB64: existingEnv, SenderDeviceID: existingSender, TSMs: existingTS,
			}
			created = false
			return tx.Commit()
		}
		if !errors.Is(scanErr, sql.ErrNoRows) {
			return fmt.Errorf("check existing event: %w", scanErr)
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO conv_seq (conv_id, next_seq) VALUES (?, 1)`, convID); err != nil {
			return fmt.Errorf("ensure conv_seq row: %w", err)
		}
		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM conv_seq WHERE conv_id=?`, convID).Scan(&seq); err != nil {
			return fmt.Errorf("read next_seq: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE conv_seq SET next_seq = next_seq + 1 WHERE conv_id=?`, convID); err != nil {
			return fmt.Errorf("advance next_seq: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conv_events (conv_id, seq, msg_id, env_b64, sender_device_id, ts_ms) VALUES (?, ?, ?, ?, ?, ?)`,
			convID, seq, msgID, envB64, senderDeviceID, tsMs); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append: %w", err)
		}
		event = domain.ConversationEvent{
			ConvID: convID, Seq: seq, MsgID: msgID,
			EnvB64: envB64, SenderDeviceID: senderDeviceID, TSMs: tsMs,
		}
		created = true
		return nil
	})
	return event, created, err
}

// ListFrom returns events with seq >= fromSeq in ascending order,
// bounded by limit when limit > 0.
func (s *Store) ListFrom(ctx context.Context, convID string, fromSeq int64, limit int64) ([]domain.ConversationEvent, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	query := `SELECT conv_id, seq, msg_id, env_b64, sender_device_id, ts_ms FROM conv_events WHERE conv_id=? AND seq>=? ORDER BY seq ASC`
	args := []any{convID, fromSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events from %d: %w", fromSeq, err)
	}
	defer rows.Close()

	var out []domain.ConversationEvent
	for rows.Next() {
		var e domain.ConversationEvent
		if err := rows.Scan(&e.ConvID, &e.Seq, &e.MsgID, &e.EnvB64, &e.SenderDeviceID, &e.TSMs); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Bounds returns the conversation's earliest/latest seq and the
// timestamp of the latest event; all nil when the conversation has no
// events.
func (s *Store) Bounds(ctx context.Context, convID string) (earliestSeq, latestSeq, latestTSMs *int64, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			MIN(seq),
			MAX(seq),
			(SELECT ts_ms FROM conv_events WHERE conv_id=? ORDER BY seq DESC LIMIT 1)
		FROM conv_events WHERE conv_id=?`, convID, convID)

	var minSeq, maxSeq, lts sql.NullInt64
	if err := row.Scan(&minSeq, &maxSeq, &lts); err != nil {
		return nil, nil, nil, fmt.Errorf("read bounds: %w", err)
	}
	if !minSeq.Valid || !maxSeq.Valid {
		return nil, nil, nil, nil
	}
	e, l := minSeq.Int64, maxSeq.Int64
	earliestSeq, latestSeq = &e, &l
	if lts.Valid {
		t := lts.Int64
		latestTSMs = &t
	}
	return earliestSeq, latestSeq, latestTSMs, nil
}

// ListConvIDs returns every conv_id with at least one logged event, for
// the retention sweeper to iterate.
func (s *Store) ListConvIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT conv_id FROM conv_events ORDER BY conv_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list conv ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conv id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PruneConv deletes events up to the retention-computed boundary (§4.6)
// and returns the number of rows removed. policy fields are read
// directly to keep this function free of an import cycle with
// internal/retention; internal/retention.Policy satisfies them.
func (s *Store) PruneConv(ctx context.Context, convID string, maxEventsPerConv, maxAgeMs int64, hardLimits bool, nowMs int64, activeMinNextSeq *int64) (int64, error) {
	var minSeq, maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(seq), MAX(seq) FROM conv_events WHERE conv_id=?`, convID).Scan(&minSeq, &maxSeq); err != nil {
		return 0, fmt.Errorf("prune bounds: %w", err)
	}
	if !minSeq.Valid || !maxSeq.Valid {
		return 0, nil
	}

	var deleteUptoSeq *int64
	if maxEventsPerConv > 0 {
		v := maxSeq.Int64 - maxEventsPerConv
		deleteUptoSeq = &v
	}

	if maxAgeMs > 0 {
		ageCutoff := nowMs - maxAgeMs
		var ageMax sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM conv_events WHERE conv_id=? AND ts_ms<?`, convID, ageCutoff).Scan(&ageMax); err != nil {
			return 0, fmt.Errorf("prune age bound: %w", err)
		}
		if ageMax.Valid {
			if deleteUptoSeq == nil || ageMax.Int64 > *deleteUptoSeq {
				v := ageMax.Int64
				deleteUptoSeq = &v
			}
		}
	}

	if deleteUptoSeq == nil {
		return 0, nil
	}

	v := *deleteUptoSeq
	if v < minSeq.Int64-1 {
		v = minSeq.Int64 - 1
	}
	if !hardLimits && activeMinNextSeq != nil && v > *activeMinNextSeq-1 {
		v = *activeMinNextSeq - 1
	}

	if v < minSeq.Int64 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM conv_events WHERE conv_id=? AND seq<=?`, convID, v)
	if err != nil {
		return 0, fmt.Errorf("prune delete: %w", err)
	}
	return res.RowsAffected()
}
