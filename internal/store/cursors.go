package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AckCursor sets next_seq := max(next_seq, ackedSeq+1) and refreshes
// updated_ms, per §4.3: monotonicity is unconditional, regressions are
// silently clamped rather than rejected.
func (s *Store) AckCursor(ctx context.Context, deviceID, convID string, ackedSeq, nowMs int64) (int64, error) {
	if ackedSeq < 0 {
		ackedSeq = 0
	}
	nextSeq := ackedSeq + 1
	if nextSeq < 1 {
		nextSeq = 1
	}

	var result int64
	err := s.retry(ctx, "AckCursor", func() error {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO cursors (device_id, conv_id, next_seq, updated_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(device_id, conv_id) DO UPDATE SET
				next_seq = CASE WHEN excluded.next_seq > cursors.next_seq THEN excluded.next_seq ELSE cursors.next_seq END,
				updated_ms = excluded.updated_ms
		`, deviceID, convID, nextSeq, nowMs); err != nil {
			return fmt.Errorf("upsert cursor: %w", err)
		}
		return s.db.QueryRowContext(ctx, `SELECT next_seq FROM cursors WHERE device_id=? AND conv_id=?`, deviceID, convID).Scan(&result)
	})
	if err != nil {
		return 0, err
	}
	return result, nil
}

// ActiveMinNextSeq returns the minimum next_seq across cursors for a
// conversation, optionally excluding stale ones; nil when no cursor
// exists (or all are stale).
func (s *Store) ActiveMinNextSeq(ctx context.Context, convID string, nowMs, cursorStaleAfterMs int64) (*int64, error) {
	var row *sql.Row
	if cursorStaleAfterMs <= 0 {
		row = s.db.QueryRowContext(ctx, `SELECT MIN(next_seq) FROM cursors WHERE conv_id=?`, convID)
	} else {
		staleCutoff := nowMs - cursorStaleAfterMs
		row = s.db.QueryRowContext(ctx, `SELECT MIN(next_seq) FROM cursors WHERE conv_id=? AND updated_ms>=?`, convID, staleCutoff)
	}
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		return nil, fmt.Errorf("active min next_seq: %w", err)
	}
	if !v.Valid {
		return nil, nil
	}
	r := v.Int64
	return &r, nil
}

// NextSeq returns a device's next_seq for a conversation, default 1.
func (s *Store) NextSeq(ctx context.Context, deviceID, convID string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT next_seq FROM cursors WHERE device_id=? AND conv_id=?`, deviceID, convID).Scan(&v)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read next_seq: %w", err)
	}
	return v, nil
}

// CursorRow is one row of ListCursors.
type CursorRow struct {
	ConvID  string
	NextSeq int64
}

// ListCursors returns every cursor a device holds, ordered by conv_id.
func (s *Store) ListCursors(ctx context.Context, deviceID string) ([]CursorRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT conv_id, next_seq FROM cursors WHERE device_id=? ORDER BY conv_id ASC`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	defer rows.Close()
	var out []CursorRow
	for rows.Next() {
		var c CursorRow
		if err := rows.Scan(&c.ConvID, &c.NextSeq); err != nil {
			return nil, fmt.Errorf("scan cursor row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
