// Package convsvc implements conversation and membership operations
// (§4.5): create/invite/remove/ban/unban/promote/demote, per-member
// view state (title/label/pin/mute/archive), read tracking, and the
// list_for_user projection with computed unread counts -- the latter
// needs both internal/store's conversation tables and internal/convlog's
// log bounds, which is why it lives in its own service package rather
// than on internal/store directly.
package convsvc

import (
	"context"
	"fmt"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/store"
	"github.com/google/uuid"
)

// ConvBackend is the subset of internal/store.Store convsvc needs for
// conversation/membership state.
type ConvBackend interface {
	CreateConversation(ctx context.Context, convID, ownerUserID string, members []string, homeGateway string, nowMs int64) error
	Invite(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error
	Remove(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error
	Ban(ctx context.Context, convID, actorUserID string, members []string, nowMs int64) error
	Unban(ctx context.Context, convID, actorUserID string, members []string) error
	ListBans(ctx context.Context, convID, actorUserID string) ([]store.BanEntry, error)
	IsBanned(ctx context.Context, convID, userID string) (bool, error)
	PromoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error
	DemoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error
	IsMember(ctx context.Context, convID, userID string) (bool, error)
	IsKnownConversation(ctx context.Context, convID string) (bool, error)
	Role(ctx context.Context, convID, userID string) (domain.Role, error)
	HomeGateway(ctx context.Context, convID, defaultGateway string) (string, error)
	ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error)
	SetTitle(ctx context.Context, convID, actorUserID, title string) error
	SetLabel(ctx context.Context, convID, userID, label string, nowMs int64) error
	SetPinned(ctx context.Context, convID, userID string, pinned bool, nowMs int64) error
	SetMuted(ctx context.Context, convID, userID string, muted bool, nowMs int64) error
	SetArchived(ctx context.Context, convID, userID string, archived bool, nowMs int64) error
	ListMembers(ctx context.Context, convID string) ([]domain.Member, error)
	GetLastReadSeq(ctx context.Context, convID, userID string) (*int64, error)
	MarkRead(ctx context.Context, convID, userID string, toSeq *int64, nowMs int64, latestSeq, earliestSeq *int64) (int64, error)
}

// Log is the subset of internal/convlog.Log convsvc needs for
// unread-count computation.
type Log interface {
	Bounds(ctx context.Context, convID string) (earliestSeq, latestSeq, latestTSMs *int64, err error)
}

// Service implements conversation/membership operations.
type Service struct {
	backend     ConvBackend
	log         Log
	homeGateway string
}

// New builds a Service. homeGateway fills a conversation's
// home_gateway the first time it's read if one wasn't supplied at
// creation.
func New(backend ConvBackend, log Log, homeGateway string) *Service {
	return &Service{backend: backend, log: log, homeGateway: homeGateway}
}

// Create allocates a fresh conv_id and its initial roster.
func (s *Service) Create(ctx context.Context, ownerUserID string, members []string) (domain.Conversation, error) {
	convID := uuid.NewString()
	nowMs := domain.NowMs()
	if err := s.backend.CreateConversation(ctx, convID, ownerUserID, members, s.homeGateway, nowMs); err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{
		ConvID:      convID,
		OwnerUserID: ownerUserID,
		CreatedAtMs: nowMs,
		HomeGateway: s.homeGateway,
	}, nil
}

func (s *Service) Invite(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.Invite(ctx, convID, actorUserID, members, domain.NowMs())
}

func (s *Service) Remove(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.Remove(ctx, convID, actorUserID, members, domain.NowMs())
}

func (s *Service) Ban(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.Ban(ctx, convID, actorUserID, members, domain.NowMs())
}

func (s *Service) Unban(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.Unban(ctx, convID, actorUserID, members)
}

func (s *Service) ListBans(ctx context.Context, convID, actorUserID string) ([]store.BanEntry, error) {
	return s.backend.ListBans(ctx, convID, actorUserID)
}

func (s *Service) PromoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.PromoteAdmin(ctx, convID, actorUserID, members)
}

func (s *Service) DemoteAdmin(ctx context.Context, convID, actorUserID string, members []string) error {
	return s.backend.DemoteAdmin(ctx, convID, actorUserID, members)
}

func (s *Service) RequireMember(ctx context.Context, convID, userID string) error {
	isMember, err := s.backend.IsMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return gatewayerr.Forbidden("not a member of this conversation")
	}
	return nil
}

func (s *Service) Role(ctx context.Context, convID, userID string) (domain.Role, error) {
	return s.backend.Role(ctx, convID, userID)
}

func (s *Service) HomeGateway(ctx context.Context, convID string) (string, error) {
	return s.backend.HomeGateway(ctx, convID, s.homeGateway)
}

func (s *Service) SetTitle(ctx context.Context, convID, actorUserID, title string) error {
	return s.backend.SetTitle(ctx, convID, actorUserID, title)
}

func (s *Service) SetLabel(ctx context.Context, convID, userID, label string) error {
	return s.backend.SetLabel(ctx, convID, userID, label, domain.NowMs())
}

func (s *Service) SetPinned(ctx context.Context, convID, userID string, pinned bool) error {
	return s.backend.SetPinned(ctx, convID, userID, pinned, domain.NowMs())
}

func (s *Service) SetMuted(ctx context.Context, convID, userID string, muted bool) error {
	return s.backend.SetMuted(ctx, convID, userID, muted, domain.NowMs())
}

func (s *Service) SetArchived(ctx context.Context, convID, userID string, archived bool) error {
	return s.backend.SetArchived(ctx, convID, userID, archived, domain.NowMs())
}

func (s *Service) ListMembers(ctx context.Context, convID string) ([]domain.Member, error) {
	return s.backend.ListMembers(ctx, convID)
}

// MarkRead advances a member's read cursor, resolving latest/earliest
// seq from the conversation log to clamp the request.
func (s *Service) MarkRead(ctx context.Context, convID, userID string, toSeq *int64) (int64, error) {
	earliest, latest, _, err := s.log.Bounds(ctx, convID)
	if err != nil {
		return 0, fmt.Errorf("read conversation bounds: %w", err)
	}
	return s.backend.MarkRead(ctx, convID, userID, toSeq, domain.NowMs(), latest, earliest)
}

// MarkAllRead advances the read cursor for every conversation userID
// belongs to, per the resolved Open Question: every membership row,
// regardless of archived state.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	summaries, err := s.backend.ListForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list conversations for mark_all_read: %w", err)
	}
	count := 0
	for _, summary := range summaries {
		if _, err := s.MarkRead(ctx, summary.ConvID, userID, nil); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListForUser projects list_for_user with unread counts computed from
// the conversation log's current bounds.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	summaries, err := s.backend.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		earliest, latest, latestTS, err := s.log.Bounds(ctx, summaries[i].ConvID)
		if err != nil {
			return nil, fmt.Errorf("read bounds for %s: %w", summaries[i].ConvID, err)
		}
		if latest != nil {
			summaries[i].LatestSeq = *latest
		}
		if earliest != nil {
			summaries[i].EarliestSeq = *earliest
		}
		if latestTS != nil {
			summaries[i].LatestTSMs = *latestTS
		}
		lastRead, err := s.backend.GetLastReadSeq(ctx, summaries[i].ConvID, userID)
		if err != nil {
			return nil, fmt.Errorf("read last_read_seq for %s: %w", summaries[i].ConvID, err)
		}
		floor := summaries[i].EarliestSeq - 1
		if lastRead != nil && *lastRead > floor {
			floor = *lastRead
		}
		summaries[i].LastReadSeq = floor
		if summaries[i].LatestSeq > floor {
			summaries[i].UnreadCount = summaries[i].LatestSeq - floor
		}
	}
	return summaries, nil
}
