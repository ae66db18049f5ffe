package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/convgateway/core/internal/domain"
)

// MaxUnissuedPerDevice mirrors keypackages.py's _MAX_UNISSUED_PER_DEVICE:
// the FIFO cap on how many unissued, unrevoked keypackages a single
// device may keep published at once.
const MaxUnissuedPerDevice = 1000

// PublishKeypackages appends freshly generated keypackages for a device
// and then enforces the per-device FIFO cap, evicting the oldest
// unissued ones first.
func (s *Store) PublishKeypackages(ctx context.Context, userID, deviceID string, keypackagesB64 []string, nowMs int64) error {
	if len(keypackagesB64) == 0 {
		return nil
	}
	return s.retry(ctx, "PublishKeypackages", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin publish tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, kp := range keypackagesB64 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO keypackages (user_id, device_id, kp_b64, created_ms) VALUES (?, ?, ?, ?)`,
				userID, deviceID, kp, nowMs); err != nil {
				return fmt.Errorf("insert keypackage: %w", err)
			}
		}
		if err := enforceKeypackageCap(ctx, tx, deviceID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func enforceKeypackageCap(ctx context.Context, tx *sql.Tx, deviceID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT kp_id FROM keypackages
		WHERE device_id=? AND issued_ms IS NULL AND revoked_ms IS NULL
		ORDER BY kp_id ASC`, deviceID)
	if err != nil {
		return fmt.Errorf("list unissued keypackages: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan keypackage id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	overflow := len(ids) - MaxUnissuedPerDevice
	if overflow <= 0 {
		return nil
	}
	for _, id := range ids[:overflow] {
		if _, err := tx.ExecContext(ctx, `DELETE FROM keypackages WHERE kp_id=?`, id); err != nil {
			return fmt.Errorf("evict oldest keypackage: %w", err)
		}
	}
	return nil
}

// FetchKeypackages issues up to count unissued, unrevoked keypackages
// for userID across all of their devices (spec.md §4.7 widens this from
// the Python original's single-device fetch to cover every device a
// user owns), oldest first, marking them issued so they are never
// handed out twice.
func (s *Store) FetchKeypackages(ctx context.Context, userID string, count int64, nowMs int64) ([]domain.Keypackage, error) {
	if count <= 0 {
		return nil, nil
	}
	var out []domain.Keypackage
	err := s.retry(ctx, "FetchKeypackages", func() error {
		out = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin fetch tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT kp_id, device_id, kp_b64, created_ms
			FROM keypackages
			WHERE user_id=? AND issued_ms IS NULL AND revoked_ms IS NULL
			ORDER BY kp_id ASC
			LIMIT ?`, userID, count)
		if err != nil {
			return fmt.Errorf("list available keypackages: %w", err)
		}
		var ids []int64
		for rows.Next() {
			var kp domain.Keypackage
			if err := rows.Scan(&kp.KpID, &kp.DeviceID, &kp.KpB64, &kp.CreatedMs); err != nil {
				rows.Close()
				return fmt.Errorf("scan keypackage: %w", err)
			}
			kp.UserID = userID
			out = append(out, kp)
			ids = append(ids, kp.KpID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE keypackages SET issued_ms=? WHERE kp_id=?`, nowMs, id); err != nil {
				return fmt.Errorf("mark keypackage issued: %w", err)
			}
		}
		return tx.Commit()
	})
	return out, err
}

// RotateKeypackages optionally revokes every unissued keypackage for a
// device, then publishes a replacement batch and re-enforces the cap.
func (s *Store) RotateKeypackages(ctx context.Context, userID, deviceID string, revoke bool, replacementB64 []string, nowMs int64) error {
	return s.retry(ctx, "RotateKeypackages", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin rotate tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if revoke {
			if _, err := tx.ExecContext(ctx, `
				UPDATE keypackages SET revoked_ms=?
				WHERE device_id=? AND issued_ms IS NULL AND revoked_ms IS NULL`,
				nowMs, deviceID); err != nil {
				return fmt.Errorf("revoke unissued keypackages: %w", err)
			}
		}
		if len(replacementB64) > 0 {
			for _, kp := range replacementB64 {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO keypackages (user_id, device_id, kp_b64, created_ms) VALUES (?, ?, ?, ?)`,
					userID, deviceID, kp, nowMs); err != nil {
					return fmt.Errorf("insert replacement keypackage: %w", err)
				}
			}
			if err := enforceKeypackageCap(ctx, tx, deviceID); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// CountAvailableKeypackages reports how many unissued, unrevoked keypackages a
// user has left across all devices, used for low-keypackage warnings.
func (s *Store) CountAvailableKeypackages(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM keypackages
		WHERE user_id=? AND issued_ms IS NULL AND revoked_ms IS NULL`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count available keypackages: %w", err)
	}
	return n, nil
}
