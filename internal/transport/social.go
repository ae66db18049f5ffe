package transport

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/crypto"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

type socialPublishRequest struct {
	Kind     string         `json:"kind"`
	Payload  map[string]any `json:"payload"`
	PrevHash string         `json:"prev_hash"`
	TSMs     int64          `json:"ts_ms"`
	SigB64   string         `json:"sig_b64"`
}

// handleSocialPublish verifies and appends one signed event to the
// caller's social chain (POST /v1/social/events).
func (s *Server) handleSocialPublish(w http.ResponseWriter, r *http.Request) {
	var req socialPublishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Kind == "" || req.SigB64 == "" {
		writeError(w, gatewayerr.Invalid("kind and sig_b64 are required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if ok, retryAfterS := s.rt.SocialPublishLimiter.Allow(userID, domain.NowMs()); !ok {
		writeError(w, gatewayerr.RateLimited(retryAfterS))
		return
	}
	event, err := s.rt.Social.Publish(r.Context(), userID, req.Kind, req.Payload, req.TSMs, req.PrevHash, req.SigB64)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rt.Metrics.RecordSocialEvent()
	writeJSON(w, http.StatusOK, event)
}

// handleSocialEventsList returns the caller's latest posts, as held by
// the profile projection, under "latest_posts" (GET /v1/social/events).
// Other event kinds and older posts are not listed, and no query
// parameters are read.
func (s *Server) handleSocialEventsList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	profile, err := s.rt.Social.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"latest_posts": profile.LatestPosts})
}

// handleSocialProfile serves a user's last-writer-wins profile
// projection with a weak ETag derived from its content
// (GET /v1/social/profile).
func (s *Server) handleSocialProfile(w http.ResponseWriter, r *http.Request) {
	targetUserID := r.URL.Query().Get("user_id")
	if targetUserID == "" {
		targetUserID = auth.UserIDFromContext(r.Context())
	}
	profile, err := s.rt.Social.Profile(r.Context(), targetUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := crypto.CanonicalJSON(profile)
	if err != nil {
		writeError(w, err)
		return
	}
	etag := fmt.Sprintf(`W/"%s"`, crypto.SHA256Hex(body))
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, profile)
}

// handleSocialFeed returns one page of a user's chain, paginated by
// opaque cursor (GET /v1/social/feed).
func (s *Server) handleSocialFeed(w http.ResponseWriter, r *http.Request) {
	targetUserID := r.URL.Query().Get("user_id")
	if targetUserID == "" {
		targetUserID = auth.UserIDFromContext(r.Context())
	}
	limit := int64(20)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, gatewayerr.Invalid("limit must be a positive integer"))
			return
		}
		limit = n
	}
	cursor := r.URL.Query().Get("cursor")
	events, nextCursor, hasMore, err := s.rt.Social.Feed(r.Context(), targetUserID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       events,
		"next_cursor": nextCursor,
		"has_more":    hasMore,
	})
}
