package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/runtime"
)

// Server holds the state every REST/duplex handler needs: the
// composed runtime and the set of origins the duplex upgrade accepts.
type Server struct {
	rt               *runtime.Runtime
	allowedWSOrigins []string
}

// NewServer builds a Server over an already-wired Runtime.
func NewServer(rt *runtime.Runtime) *Server {
	origins := []string{"*"}
	if rt.Config.FrontendURL != "" {
		origins = strings.Split(rt.Config.FrontendURL, ",")
	}
	return &Server{rt: rt, allowedWSOrigins: origins}
}

// Router builds the chi router exposing every endpoint in §6.1/§6.2.
// healthz, gateways/resolve, session.start and session.resume are
// unauthenticated, and /v1/ws authenticates through its first frame;
// every other route requires a valid bearer session_token.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Get("/v1/gateways/resolve", s.handleGatewayResolve)
	r.Post("/v1/session/start", s.handleSessionStart)
	r.Post("/v1/session/resume", s.handleSessionResume)
	r.Get("/v1/ws", s.handleDuplex)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.rt.Sessions))

		r.Get("/v1/session/list", s.handleSessionList)
		r.Post("/v1/session/revoke", s.handleSessionRevoke)
		r.Post("/v1/session/logout", s.handleSessionLogout)
		r.Post("/v1/session/logout_all", s.handleSessionLogoutAll)

		r.Post("/v1/dms/create", s.handleDMCreate)
		r.Post("/v1/rooms/create", s.handleRoomCreate)
		r.Post("/v1/rooms/invite", s.handleRoomInvite)
		r.Post("/v1/rooms/remove", s.handleRoomRemove)
		r.Post("/v1/rooms/ban", s.handleRoomBan)
		r.Post("/v1/rooms/unban", s.handleRoomUnban)
		r.Post("/v1/rooms/promote", s.handleRoomPromote)
		r.Post("/v1/rooms/demote", s.handleRoomDemote)
		r.Post("/v1/rooms/mute", s.handleRoomMute)
		r.Post("/v1/rooms/unmute", s.handleRoomUnmute)
		r.Get("/v1/rooms/members", s.handleRoomMembers)
		r.Get("/v1/rooms/bans", s.handleRoomBans)

		r.Get("/v1/conversations", s.handleListConversations)
		r.Post("/v1/conversations/title", s.handleConversationTitle)
		r.Post("/v1/conversations/label", s.handleConversationLabel)
		r.Post("/v1/conversations/pin", s.handleConversationPin)
		r.Post("/v1/conversations/mute", s.handleConversationMute)
		r.Post("/v1/conversations/archive", s.handleConversationArchive)
		r.Post("/v1/conversations/mark_read", s.handleMarkRead)
		r.Post("/v1/conversations/mark_all_read", s.handleMarkAllRead)

		r.Post("/v1/inbox", s.handleInboxSend)
		r.Get("/v1/sse", s.handleSSE)

		r.Post("/v1/keypackages", s.handleKeypackagePublish)
		r.Post("/v1/keypackages/fetch", s.handleKeypackageFetch)
		r.Post("/v1/keypackages/rotate", s.handleKeypackageRotate)

		r.Post("/v1/social/events", s.handleSocialPublish)
		r.Get("/v1/social/events", s.handleSocialEventsList)
		r.Get("/v1/social/profile", s.handleSocialProfile)
		r.Get("/v1/social/feed", s.handleSocialFeed)

		r.Post("/v1/presence/lease", s.handlePresenceLease)
		r.Post("/v1/presence/renew", s.handlePresenceRenew)
		r.Post("/v1/presence/watch", s.handlePresenceWatch)
		r.Post("/v1/presence/unwatch", s.handlePresenceUnwatch)
		r.Post("/v1/presence/block", s.handlePresenceBlock)
		r.Post("/v1/presence/unblock", s.handlePresenceUnblock)
		r.Post("/v1/presence/status", s.handlePresenceStatus)
		r.Get("/v1/presence/blocklist", s.handlePresenceBlockList)
	})

	return r
}

// handleHealthz reports liveness for load balancer probes.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.Store.Ping(r.Context()); err != nil {
		writeError(w, gatewayerr.Internal("database unreachable"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleGatewayResolve resolves a gateway_id to its reachable address
// (GET /v1/gateways/resolve?gateway_id=...).
func (s *Server) handleGatewayResolve(w http.ResponseWriter, r *http.Request) {
	gatewayID := r.URL.Query().Get("gateway_id")
	if gatewayID == "" {
		writeError(w, gatewayerr.Invalid("gateway_id is required"))
		return
	}
	addr, err := s.rt.Gateways.Resolve(gatewayID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gateway_id": gatewayID, "address": addr})
}
