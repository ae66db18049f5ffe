package transport

import (
	"net/http"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/gatewayerr"
)

type presenceLeaseRequest struct {
	DeviceID   string `json:"device_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Invisible  bool   `json:"invisible"`
}

// handlePresenceLease establishes a device liveness lease
// (POST /v1/presence/lease).
func (s *Server) handlePresenceLease(w http.ResponseWriter, r *http.Request) {
	var req presenceLeaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("device_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	expiresAtMs, err := s.rt.Presence.Lease(r.Context(), userID, req.DeviceID, req.TTLSeconds, req.Invisible)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rt.Metrics.RecordPresenceUpdate()
	writeJSON(w, http.StatusOK, map[string]any{"expires_at_ms": expiresAtMs})
}

type presenceRenewRequest struct {
	DeviceID   string `json:"device_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Invisible  *bool  `json:"invisible"`
}

// handlePresenceRenew extends an existing lease, optionally flipping
// its invisible flag (POST /v1/presence/renew).
func (s *Server) handlePresenceRenew(w http.ResponseWriter, r *http.Request) {
	var req presenceRenewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("device_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	expiresAtMs, err := s.rt.Presence.Renew(r.Context(), userID, req.DeviceID, req.TTLSeconds, req.Invisible)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rt.Metrics.RecordPresenceUpdate()
	writeJSON(w, http.StatusOK, map[string]any{"expires_at_ms": expiresAtMs})
}

type presenceContactsRequest struct {
	Contacts []string `json:"contacts"`
}

// handlePresenceWatch adds mutual-consent watch entries
// (POST /v1/presence/watch).
func (s *Server) handlePresenceWatch(w http.ResponseWriter, r *http.Request) {
	var req presenceContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Presence.Watch(r.Context(), userID, req.Contacts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "watchlist_size": s.rt.Presence.WatchlistSize(userID)})
}

// handlePresenceUnwatch removes watch entries (POST /v1/presence/unwatch).
func (s *Server) handlePresenceUnwatch(w http.ResponseWriter, r *http.Request) {
	var req presenceContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Presence.Unwatch(r.Context(), userID, req.Contacts); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "watchlist_size": s.rt.Presence.WatchlistSize(userID)})
}

// handlePresenceBlock adds entries to the caller's block list
// (POST /v1/presence/block).
func (s *Server) handlePresenceBlock(w http.ResponseWriter, r *http.Request) {
	var req presenceContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	blocked, err := s.rt.Presence.Block(r.Context(), userID, req.Contacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "blocked": blocked})
}

// handlePresenceUnblock removes entries from the caller's block list
// (POST /v1/presence/unblock).
func (s *Server) handlePresenceUnblock(w http.ResponseWriter, r *http.Request) {
	var req presenceContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	unblocked, err := s.rt.Presence.Unblock(r.Context(), userID, req.Contacts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "unblocked": unblocked})
}

// handlePresenceStatus reports the visible status of a set of contacts
// (POST /v1/presence/status).
func (s *Server) handlePresenceStatus(w http.ResponseWriter, r *http.Request) {
	var req presenceContactsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	statuses := s.rt.Presence.Status(r.Context(), userID, req.Contacts)
	writeJSON(w, http.StatusOK, map[string]any{"statuses": statuses})
}

// handlePresenceBlockList lists the caller's block list
// (GET /v1/presence/blocklist).
func (s *Server) handlePresenceBlockList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"blocked": s.rt.Presence.BlockList(userID)})
}
