package transport

import (
	"context"
	"net/http"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

type roomRequest struct {
	ConvID  string   `json:"conv_id"`
	Members []string `json:"members"`
}

// handleRoomCreate creates a group conversation owned by the caller
// (POST /v1/rooms/create).
func (s *Server) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	conv, err := s.rt.Conversations.Create(r.Context(), userID, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type dmCreateRequest struct {
	PeerUserID string `json:"peer_user_id"`
	ConvID     string `json:"conv_id"`
}

// handleDMCreate creates a direct-message conversation between the
// caller and a peer, refusing if either side has blocked the other
// (POST /v1/dms/create).
func (s *Server) handleDMCreate(w http.ResponseWriter, r *http.Request) {
	var req dmCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PeerUserID == "" || req.ConvID == "" {
		writeError(w, gatewayerr.Invalid("peer_user_id and conv_id are required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if ok, retryAfterS := s.rt.DMCreateLimiter.Allow(userID, domain.NowMs()); !ok {
		writeError(w, gatewayerr.RateLimited(retryAfterS))
		return
	}
	if s.rt.Presence.IsBlocked(userID, req.PeerUserID) {
		writeError(w, gatewayerr.Forbidden("blocked"))
		return
	}
	if err := s.rt.Store.CreateConversation(r.Context(), req.ConvID, userID, []string{req.PeerUserID}, s.rt.Config.GatewayID, domain.NowMs()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conv_id": req.ConvID})
}

// roomAction decodes a {conv_id, members} body and applies it through
// action, the common shape of invite/remove/ban/unban/promote/demote.
func (s *Server) roomAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, convID, actorUserID string, members []string) error) {
	var req roomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ConvID == "" {
		writeError(w, gatewayerr.Invalid("conv_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := action(r.Context(), req.ConvID, userID, req.Members); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleRoomInvite(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.rt.Conversations.Invite)
}

func (s *Server) handleRoomRemove(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.rt.Conversations.Remove)
}

func (s *Server) handleRoomBan(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, s.rt.Conversations.Ban)
}

func (s *Server) handleRoomUnban(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(ctx context.Context, convID, actor string, members []string) error {
		return s.rt.Conversations.Unban(ctx, convID, actor, members)
	})
}

func (s *Server) handleRoomPromote(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(ctx context.Context, convID, actor string, members []string) error {
		return s.rt.Conversations.PromoteAdmin(ctx, convID, actor, members)
	})
}

func (s *Server) handleRoomDemote(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(ctx context.Context, convID, actor string, members []string) error {
		return s.rt.Conversations.DemoteAdmin(ctx, convID, actor, members)
	})
}

func (s *Server) handleRoomMute(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(ctx context.Context, convID, actor string, _ []string) error {
		return s.rt.Conversations.SetMuted(ctx, convID, actor, true)
	})
}

func (s *Server) handleRoomUnmute(w http.ResponseWriter, r *http.Request) {
	s.roomAction(w, r, func(ctx context.Context, convID, actor string, _ []string) error {
		return s.rt.Conversations.SetMuted(ctx, convID, actor, false)
	})
}

// handleRoomMembers lists a conversation's roster (GET /v1/rooms/members).
func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conv_id")
	if convID == "" {
		writeError(w, gatewayerr.Invalid("conv_id is required"))
		return
	}
	if err := s.rt.Conversations.RequireMember(r.Context(), convID, auth.UserIDFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	members, err := s.rt.Conversations.ListMembers(r.Context(), convID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// handleRoomBans lists a conversation's ban list (GET /v1/rooms/bans).
func (s *Server) handleRoomBans(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conv_id")
	if convID == "" {
		writeError(w, gatewayerr.Invalid("conv_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	bans, err := s.rt.Conversations.ListBans(r.Context(), convID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bans": bans})
}

// handleListConversations lists the caller's conversations
// (GET /v1/conversations).
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	summaries, err := s.rt.Conversations.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	includeArchived := r.URL.Query().Get("include_archived") == "1"
	items := make([]domain.ConversationSummary, 0, len(summaries))
	for _, sum := range summaries {
		if sum.Archived && !includeArchived {
			continue
		}
		items = append(items, sum)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type conversationTitleRequest struct {
	ConvID string `json:"conv_id"`
	Title  string `json:"title"`
}

func (s *Server) handleConversationTitle(w http.ResponseWriter, r *http.Request) {
	var req conversationTitleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Conversations.SetTitle(r.Context(), req.ConvID, userID, req.Title); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type conversationLabelRequest struct {
	ConvID string `json:"conv_id"`
	Label  string `json:"label"`
}

func (s *Server) handleConversationLabel(w http.ResponseWriter, r *http.Request) {
	var req conversationLabelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Conversations.SetLabel(r.Context(), req.ConvID, userID, req.Label); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type conversationFlagRequest struct {
	ConvID string `json:"conv_id"`
	Value  *bool  `json:"value"`
}

// conversationFlagAction decodes a {conv_id, value?} body and applies
// apply with value defaulted to defaultValue when omitted -- the
// common shape of pin/mute/archive.
func (s *Server) conversationFlagAction(w http.ResponseWriter, r *http.Request, defaultValue bool, apply func(ctx context.Context, convID, userID string, value bool) error) {
	var req conversationFlagRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ConvID == "" {
		writeError(w, gatewayerr.Invalid("conv_id is required"))
		return
	}
	value := defaultValue
	if req.Value != nil {
		value = *req.Value
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := apply(r.Context(), req.ConvID, userID, value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleConversationPin(w http.ResponseWriter, r *http.Request) {
	s.conversationFlagAction(w, r, true, s.rt.Conversations.SetPinned)
}

func (s *Server) handleConversationMute(w http.ResponseWriter, r *http.Request) {
	s.conversationFlagAction(w, r, true, s.rt.Conversations.SetMuted)
}

func (s *Server) handleConversationArchive(w http.ResponseWriter, r *http.Request) {
	s.conversationFlagAction(w, r, true, s.rt.Conversations.SetArchived)
}

type markReadRequest struct {
	ConvID string `json:"conv_id"`
	ToSeq  *int64 `json:"to_seq"`
}

// handleMarkRead advances one conversation's read cursor
// (POST /v1/conversations/mark_read).
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req markReadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ConvID == "" {
		writeError(w, gatewayerr.Invalid("conv_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	lastReadSeq, err := s.rt.Conversations.MarkRead(r.Context(), req.ConvID, userID, req.ToSeq)
	if err != nil {
		writeError(w, err)
		return
	}
	_, latest, _, boundsErr := s.rt.Log.Bounds(r.Context(), req.ConvID)
	unread := int64(0)
	if boundsErr == nil && latest != nil && *latest > lastReadSeq {
		unread = *latest - lastReadSeq
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"conv_id":       req.ConvID,
		"last_read_seq": lastReadSeq,
		"unread_count":  unread,
	})
}

// handleMarkAllRead advances the read cursor for every conversation the
// caller belongs to (POST /v1/conversations/mark_all_read).
func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	count, err := s.rt.Conversations.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "conv_count": count})
}
