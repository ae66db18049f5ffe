package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

// MaxMembersPerConv mirrors conversations.py's MAX_MEMBERS_PER_CONV.
const MaxMembersPerConv = 1024

const (
	maxConversationTitleLen = 64
	maxConversationLabelLen = 64
)

func normalizeTitle(title string) (string, error) {
	collapsed := strings.Join(strings.Fields(strings.TrimSpace(title)), " ")
	if len(collapsed) > maxConversationTitleLen {
		return "", gatewayerr.Invalid("title too long")
	}
	return collapsed, nil
}

func normalizeLabel(label string) (string, error) {
	normalized := strings.TrimSpace(label)
	if len(normalized) > maxConversationLabelLen {
		return "", gatewayerr.Invalid("label too long")
	}
	return normalized, nil
}

// CreateConversation inserts a conversation and its initial roster in
// one transaction; the owner is always a member regardless of what the
// caller passed in members.
func (s *Store) CreateConversation(ctx context.Context, convID, ownerUserID string, members []string, homeGateway string, nowMs int64) error {
	memberSet := map[string]struct{}{ownerUserID: {}}
	for _, m := range members {
		memberSet[m] = struct{}{}
	}
	if len(memberSet) > MaxMembersPerConv {
		return gatewayerr.LimitExceeded("too many members")
	}

	return s.retry(ctx, "CreateConversation", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create conversation tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var existing string
		err = tx.QueryRowContext(ctx, `SELECT conv_id FROM conversations WHERE conv_id=?`, convID).Scan(&existing)
		if err == nil {
			return gatewayerr.Conflict("conversation already exists")
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check existing conversation: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (conv_id, owner_user_id, created_at_ms, home_gateway) VALUES (?, ?, ?, ?)`,
			convID, ownerUserID, nowMs, homeGateway); err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		for member := range memberSet {
			role := domain.RoleMember
			if member == ownerUserID {
				role = domain.RoleOwner
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conversation_members (conv_id, user_id, role) VALUES (?, ?, ?)`,
				convID, member, string(role)); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
		return tx.Commit()
	})
}

func (s *Store) requireConversation(ctx context.Context, convID string) (domain.Conversation, error) {
	var c domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT conv_id, owner_user_id, created_at_ms, home_gateway, title FROM conversations WHERE conv_id=?`, convID).
		Scan(&c.ConvID, &c.OwnerUserID, &c.CreatedAtMs, &c.HomeGateway, &c.Title)
	if err == sql.ErrNoRows {
		return domain.Conversation{}, gatewayerr.NotFound("unknown conversation")
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("read conversation: %w", err)
	}
	return c, nil
}

func (s *Store) requireAdmin(ctx context.Context, conv domain.Conversation, actorUserID string) error {
	role, err := s.Role(ctx, conv.ConvID, actorUserID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner && role != domain.RoleAdmin {
		return gatewayerr.Forbidden("forbidden")
	}
	return nil
}

func requireOwner(conv domain.Conversation, actorUserID string) error {
	if conv.OwnerUserID != actorUserID {
		return gatewayerr.Forbidden("forbidden")
	}
	return nil
}

// Invite adds members to a conversation's roster, enforcing admin
// privilege, the ban list, the member cap and a per-(conv,actor) rate
// limit, in one transaction.
func (s *Store) Invite(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return err
	}
	if ok, retryAfterS := s.inviteLimits.Allow(convID+":"+actorUserID, nowMs); !ok {
		return gatewayerr.RateLimited(retryAfterS)
	}

	return s.retry(ctx, "Invite", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin invite tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		existing := map[string]struct{}{}
		rows, err := tx.QueryContext(ctx, `SELECT user_id FROM conversation_members WHERE conv_id=?`, convID)
		if err != nil {
			return fmt.Errorf("list existing members: %w", err)
		}
		for rows.Next() {
			var u string
			if err := rows.Scan(&u); err != nil {
				rows.Close()
				return fmt.Errorf("scan existing member: %w", err)
			}
			existing[u] = struct{}{}
		}
		rows.Close()

		for _, m := range members {
			var banned int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversation_bans WHERE conv_id=? AND user_id=?`, convID, m).Scan(&banned)
			if err == nil {
				return gatewayerr.Forbidden("banned")
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("check ban: %w", err)
			}
		}

		newCount := 0
		for _, m := range members {
			if _, ok := existing[m]; !ok {
				newCount++
			}
		}
		if len(existing)+newCount > MaxMembersPerConv {
			return gatewayerr.LimitExceeded("too many members")
		}

		for _, m := range members {
			if _, ok := existing[m]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO conversation_members (conv_id, user_id, role) VALUES (?, ?, ?)`,
				convID, m, string(domain.RoleMember)); err != nil {
				return fmt.Errorf("insert invited member: %w", err)
			}
			existing[m] = struct{}{}
		}
		return tx.Commit()
	})
}

// Remove drops members from the roster; the owner can never be removed.
func (s *Store) Remove(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return err
	}
	if ok, retryAfterS := s.removeLimits.Allow(convID+":"+actorUserID, nowMs); !ok {
		return gatewayerr.RateLimited(retryAfterS)
	}

	return s.retry(ctx, "Remove", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin remove tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range members {
			if m == conv.OwnerUserID {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conv_id=? AND user_id=?`, convID, m); err != nil {
				return fmt.Errorf("remove member: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Ban removes members (except the owner) and records a ban entry.
func (s *Store) Ban(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return err
	}

	return s.retry(ctx, "Ban", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin ban tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range members {
			if m == conv.OwnerUserID {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conv_id=? AND user_id=?`, convID, m); err != nil {
				return fmt.Errorf("remove banned member: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_bans (conv_id, user_id, banned_by_user_id, banned_at_ms)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(conv_id, user_id) DO UPDATE SET
					banned_by_user_id=excluded.banned_by_user_id,
					banned_at_ms=excluded.banned_at_ms
			`, convID, m, actorUserID, nowMs); err != nil {
				return fmt.Errorf("insert ban: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Unban clears ban entries for the given members.
func (s *Store) Unban(ctx context.Context, convID, actorUserID string, members []string) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return err
	}
	return s.retry(ctx, "Unban", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin unban tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range members {
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_bans WHERE conv_id=? AND user_id=?`, convID, m); err != nil {
				return fmt.Errorf("delete ban: %w", err)
			}
		}
		return tx.Commit()
	})
}

// BanEntry is one row of ListBans.
type BanEntry struct {
	UserID         string
	BannedByUserID string
	BannedAtMs     int64
}

// ListBans returns a conversation's ban list, admin-only.
func (s *Store) ListBans(ctx context.Context, convID, actorUserID string) ([]BanEntry, error) {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, banned_by_user_id, banned_at_ms FROM conversation_bans
		WHERE conv_id=? ORDER BY user_id ASC, banned_at_ms ASC`, convID)
	if err != nil {
		return nil, fmt.Errorf("list bans: %w", err)
	}
	defer rows.Close()
	var out []BanEntry
	for rows.Next() {
		var b BanEntry
		if err := rows.Scan(&b.UserID, &b.BannedByUserID, &b.BannedAtMs); err != nil {
			return nil, fmt.Errorf("scan ban: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// IsBanned reports whether a user is currently banned from a conversation.
func (s *Store) IsBanned(ctx context.Context, convID, userID string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversation_bans WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check ban: %w", err)
	}
	return true, nil
}

// PromoteAdmin grants admin role; owner-only.
func (s *Store) PromoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := requireOwner(conv, actorUserID); err != nil {
		return err
	}
	return s.retry(ctx, "PromoteAdmin", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin promote tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range members {
			if m == conv.OwnerUserID {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE conversation_members SET role='admin' WHERE conv_id=? AND user_id=?`, convID, m); err != nil {
				return fmt.Errorf("promote member: %w", err)
			}
		}
		return tx.Commit()
	})
}

// DemoteAdmin reverts an admin back to member; owner-only.
func (s *Store) DemoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := requireOwner(conv, actorUserID); err != nil {
		return err
	}
	return s.retry(ctx, "DemoteAdmin", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin demote tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		for _, m := range members {
			if m == conv.OwnerUserID {
				continue
			}
			if _, err := tx.ExecContext(ctx, `UPDATE conversation_members SET role='member' WHERE conv_id=? AND user_id=? AND role='admin'`, convID, m); err != nil {
				return fmt.Errorf("demote member: %w", err)
			}
		}
		return tx.Commit()
	})
}

// IsMember reports membership.
func (s *Store) IsMember(ctx context.Context, convID, userID string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversation_members WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// IsKnownConversation reports whether a conversation exists at all.
func (s *Store) IsKnownConversation(ctx context.Context, convID string) (bool, error) {
	var x int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE conv_id=?`, convID).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check known conversation: %w", err)
	}
	return true, nil
}

// Role returns a member's role, or "" if they are not a member.
func (s *Store) Role(ctx context.Context, convID, userID string) (domain.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM conversation_members WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return domain.Role(role), nil
}

// HomeGateway returns the conversation's home gateway, lazily filling
// it in with defaultGateway the first time it's requested if unset.
func (s *Store) HomeGateway(ctx context.Context, convID, defaultGateway string) (string, error) {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT home_gateway FROM conversations WHERE conv_id=?`, convID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", gatewayerr.NotFound("unknown conversation")
	}
	if err != nil {
		return "", fmt.Errorf("read home gateway: %w", err)
	}
	if current != "" {
		return current, nil
	}
	if defaultGateway == "" {
		return "", nil
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET home_gateway=? WHERE conv_id=?`, defaultGateway, convID); err != nil {
		return "", fmt.Errorf("fill home gateway: %w", err)
	}
	return defaultGateway, nil
}

// ListForUser returns every conversation userID belongs to, ordered
// (pinned desc, pinned_at_ms desc, created_at_ms asc, conv_id asc) with
// member ids inlined when the roster is small. Unread counts are left
// to the caller, which has access to the conversation log bounds.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.conv_id,
			c.created_at_ms,
			c.title,
			cm.role,
			COALESCE(cum.label, '') AS label,
			COALESCE(cum.pinned, 0) AS pinned,
			COALESCE(cum.pinned_at_ms, 0) AS pinned_at_ms,
			COALESCE(cum.muted, 0) AS muted,
			COALESCE(cum.archived, 0) AS archived,
			(SELECT COUNT(*) FROM conversation_members cm2 WHERE cm2.conv_id = c.conv_id) AS member_count
		FROM conversations c
		JOIN conversation_members cm ON cm.conv_id = c.conv_id
		LEFT JOIN conversation_user_meta cum ON cum.conv_id = c.conv_id AND cum.user_id = cm.user_id
		WHERE cm.user_id = ?
		ORDER BY COALESCE(cum.pinned, 0) DESC,
			COALESCE(cum.pinned_at_ms, 0) DESC,
			c.created_at_ms ASC,
			c.conv_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user: %w", err)
	}

	var items []domain.ConversationSummary
	var smallConvIDs []string
	for rows.Next() {
		var it domain.ConversationSummary
		var role string
		var pinned, muted, archived int
		if err := rows.Scan(&it.ConvID, &it.CreatedAtMs, &it.Title, &role, &it.Label,
			&pinned, &it.PinnedAtMs, &muted, &archived, &it.MemberCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation summary: %w", err)
		}
		it.Role = domain.Role(role)
		it.Pinned = pinned != 0
		it.Muted = muted != 0
		it.Archived = archived != 0
		if it.MemberCount <= domain.MaxInlineMembers {
			smallConvIDs = append(smallConvIDs, it.ConvID)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(smallConvIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(smallConvIDs)), ",")
		args := make([]any, len(smallConvIDs))
		for i, id := range smallConvIDs {
			args[i] = id
		}
		memberRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT conv_id, user_id FROM conversation_members
			WHERE conv_id IN (%s) ORDER BY conv_id ASC, user_id ASC`, placeholders), args...)
		if err != nil {
			return nil, fmt.Errorf("list inline members: %w", err)
		}
		defer memberRows.Close()
		byConv := map[string][]string{}
		for memberRows.Next() {
			var convID, userID string
			if err := memberRows.Scan(&convID, &userID); err != nil {
				return nil, fmt.Errorf("scan inline member: %w", err)
			}
			byConv[convID] = append(byConv[convID], userID)
		}
		if err := memberRows.Err(); err != nil {
			return nil, err
		}
		for i := range items {
			if ids, ok := byConv[items[i].ConvID]; ok {
				items[i].MemberIDs = ids
			}
		}
	}
	return items, nil
}

// SetTitle sets the conversation title; admin-only.
func (s *Store) SetTitle(ctx context.Context, convID, actorUserID, title string) error {
	conv, err := s.requireConversation(ctx, convID)
	if err != nil {
		return err
	}
	if err := s.requireAdmin(ctx, conv, actorUserID); err != nil {
		return err
	}
	normalized, err := normalizeTitle(title)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET title=? WHERE conv_id=?`, normalized, convID); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

func (s *Store) upsertUserMeta(ctx context.Context, convID, userID string, apply func(*domain.ConversationUserMeta), nowMs int64) error {
	return s.retry(ctx, "upsertUserMeta", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin meta tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var meta domain.ConversationUserMeta
		var pinned, muted, archived int
		err = tx.QueryRowContext(ctx, `
			SELECT label, pinned, pinned_at_ms, muted, archived FROM conversation_user_meta
			WHERE conv_id=? AND user_id=?`, convID, userID).
			Scan(&meta.Label, &pinned, &meta.PinnedAtMs, &muted, &archived)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read user meta: %w", err)
		}
		meta.Pinned, meta.Muted, meta.Archived = pinned != 0, muted != 0, archived != 0
		apply(&meta)
		meta.UpdatedAtMs = nowMs

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_user_meta (conv_id, user_id, label, pinned, pinned_at_ms, muted, archived, updated_at_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(conv_id, user_id) DO UPDATE SET
				label=excluded.label,
				pinned=excluded.pinned,
				pinned_at_ms=excluded.pinned_at_ms,
				muted=excluded.muted,
				archived=excluded.archived,
				updated_at_ms=excluded.updated_at_ms
		`, convID, userID, meta.Label, boolToInt(meta.Pinned), meta.PinnedAtMs, boolToInt(meta.Muted), boolToInt(meta.Archived), meta.UpdatedAtMs); err != nil {
			return fmt.Errorf("upsert user meta: %w", err)
		}
		return tx.Commit()
	})
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SetLabel sets a member's private label for a conversation.
func (s *Store) SetLabel(ctx context.Context, convID, userID, label string, nowMs int64) error {
	isMember, err := s.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return gatewayerr.Forbidden("forbidden")
	}
	normalized, err := normalizeLabel(label)
	if err != nil {
		return err
	}
	return s.upsertUserMeta(ctx, convID, userID, func(m *domain.ConversationUserMeta) {
		m.Label = normalized
	}, nowMs)
}

// SetPinned sets a member's pin state; pinning stamps pinned_at_ms,
// unpinning clears it.
func (s *Store) SetPinned(ctx context.Context, convID, userID string, pinned bool, nowMs int64) error {
	isMember, err := s.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return gatewayerr.Forbidden("forbidden")
	}
	return s.upsertUserMeta(ctx, convID, userID, func(m *domain.ConversationUserMeta) {
		m.Pinned = pinned
		if pinned {
			m.PinnedAtMs = nowMs
		} else {
			m.PinnedAtMs = 0
		}
	}, nowMs)
}

// SetMuted sets a member's mute state (a supplement beyond the Python
// original, which only tracked label/pin; spec.md's user meta table
// includes muted/archived directly).
func (s *Store) SetMuted(ctx context.Context, convID, userID string, muted bool, nowMs int64) error {
	isMember, err := s.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return gatewayerr.Forbidden("forbidden")
	}
	return s.upsertUserMeta(ctx, convID, userID, func(m *domain.ConversationUserMeta) {
		m.Muted = muted
	}, nowMs)
}

// SetArchived sets a member's archive state.
func (s *Store) SetArchived(ctx context.Context, convID, userID string, archived bool, nowMs int64) error {
	isMember, err := s.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return gatewayerr.Forbidden("forbidden")
	}
	return s.upsertUserMeta(ctx, convID, userID, func(m *domain.ConversationUserMeta) {
		m.Archived = archived
	}, nowMs)
}

// ListMembers returns a conversation's roster ordered by role rank
// then user id.
func (s *Store) ListMembers(ctx context.Context, convID string) ([]domain.Member, error) {
	known, err := s.IsKnownConversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, gatewayerr.NotFound("unknown conversation")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, role FROM conversation_members WHERE conv_id=?`, convID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var out []domain.Member
	for rows.Next() {
		var m domain.Member
		var role string
		if err := rows.Scan(&m.UserID, &role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.ConvID = convID
		m.Role = domain.Role(role)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortMembers(out)
	return out, nil
}

func sortMembers(members []domain.Member) {
	for i := 1; i < len(members); i++ {
		for j := i; j > 0; j-- {
			a, b := members[j-1], members[j]
			if domain.RoleRank(a.Role) < domain.RoleRank(b.Role) ||
				(domain.RoleRank(a.Role) == domain.RoleRank(b.Role) && a.UserID <= b.UserID) {
				break
			}
			members[j-1], members[j] = members[j], members[j-1]
		}
	}
}

// GetLastReadSeq returns a member's last acknowledged read seq, nil if
// never set.
func (s *Store) GetLastReadSeq(ctx context.Context, convID, userID string) (*int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT last_read_seq FROM conversation_reads WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last_read_seq: %w", err)
	}
	return &v, nil
}

// MarkRead advances a member's read cursor toward toSeq (or to
// latestSeq when toSeq is nil), clamped to [earliestSeq-1, latestSeq]
// and never regressing below what's already recorded. Returns the
// resulting last_read_seq.
func (s *Store) MarkRead(ctx context.Context, convID, userID string, toSeq *int64, nowMs int64, latestSeq, earliestSeq *int64) (int64, error) {
	var result int64
	err := s.retry(ctx, "MarkRead", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin mark_read tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var isMember int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversation_members WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&isMember)
		if err == sql.ErrNoRows {
			return gatewayerr.Forbidden("forbidden")
		}
		if err != nil {
			return fmt.Errorf("check membership: %w", err)
		}

		var existing *int64
		var existingVal int64
		err = tx.QueryRowContext(ctx, `SELECT last_read_seq FROM conversation_reads WHERE conv_id=? AND user_id=?`, convID, userID).Scan(&existingVal)
		if err == nil {
			existing = &existingVal
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("read existing cursor: %w", err)
		}

		minAllowed := int64(0)
		if earliestSeq != nil && *earliestSeq-1 > minAllowed {
			minAllowed = *earliestSeq - 1
		}
		maxAllowed := minAllowed
		if latestSeq != nil {
			maxAllowed = *latestSeq
		}
		target := maxAllowed
		if toSeq != nil {
			target = *toSeq
		}
		clamped := target
		if clamped < minAllowed {
			clamped = minAllowed
		}
		if clamped > maxAllowed {
			clamped = maxAllowed
		}
		if existing != nil && *existing > clamped {
			clamped = *existing
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_reads (conv_id, user_id, last_read_seq, updated_at_ms)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(conv_id, user_id) DO UPDATE SET
				last_read_seq=excluded.last_read_seq,
				updated_at_ms=excluded.updated_at_ms
		`, convID, userID, clamped, nowMs); err != nil {
			return fmt.Errorf("upsert read cursor: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit mark_read: %w", err)
		}
		result = clamped
		return nil
	})
	return result, err
}
