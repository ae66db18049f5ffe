package transport

import (
	"net/http"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/gatewayerr"
)

type sessionStartRequest struct {
	AuthToken        string `json:"auth_token"`
	DeviceID         string `json:"device_id"`
	DeviceCredential string `json:"device_credential"`
	ClientLabel      string `json:"client_label"`
}

type sessionResponse struct {
	SessionToken string `json:"session_token"`
	ResumeToken  string `json:"resume_token"`
	UserID       string `json:"user_id"`
	ExpiresAtMs  int64  `json:"expires_at_ms"`
}

// handleSessionStart verifies the inbound auth_token and mints a fresh
// gateway session (POST /v1/session/start).
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("device_id is required"))
		return
	}
	userID, err := auth.VerifyAuthToken(req.AuthToken, []byte(s.rt.Config.JWTSigningKey))
	if err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.rt.Sessions.Start(r.Context(), userID, req.DeviceID, req.ClientLabel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionToken: sess.SessionToken,
		ResumeToken:  sess.ResumeToken,
		UserID:       sess.UserID,
		ExpiresAtMs:  sess.ExpiresAtMs,
	})
}

type sessionResumeRequest struct {
	ResumeToken string `json:"resume_token"`
}

// handleSessionResume atomically rotates a resume token (POST
// /v1/session/resume).
func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	var req sessionResumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sess, err := s.rt.Sessions.Resume(r.Context(), req.ResumeToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionToken: sess.SessionToken,
		ResumeToken:  sess.ResumeToken,
		UserID:       sess.UserID,
		ExpiresAtMs:  sess.ExpiresAtMs,
	})
}

// handleSessionList returns the caller's sessions with tokens redacted
// (GET /v1/session/list).
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	currentToken := auth.SessionTokenFromContext(r.Context())
	sessions, err := s.rt.Sessions.List(r.Context(), userID, currentToken)
	if err != nil {
		writeError(w, err)
		return
	}
	currentID := ""
	for _, sess := range sessions {
		if sess.IsCurrent {
			currentID = sess.SessionID
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":          sessions,
		"current_session_id": currentID,
	})
}

type sessionRevokeRequest struct {
	SessionID   string `json:"session_id"`
	DeviceID    string `json:"device_id"`
	IncludeSelf bool   `json:"include_self"`
}

// handleSessionRevoke revokes one or more of the caller's sessions
// (POST /v1/session/revoke).
func (s *Server) handleSessionRevoke(w http.ResponseWriter, r *http.Request) {
	var req sessionRevokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	currentToken := auth.SessionTokenFromContext(r.Context())
	revoked, err := s.rt.Sessions.Revoke(r.Context(), userID, currentToken, req.SessionID, req.DeviceID, req.IncludeSelf)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"revoked":            len(revoked),
		"revoked_session_ids": revoked,
	})
}

// handleSessionLogout revokes the caller's current session (POST
// /v1/session/logout).
func (s *Server) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	currentToken := auth.SessionTokenFromContext(r.Context())
	if err := s.rt.Sessions.Logout(r.Context(), currentToken); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type sessionLogoutAllRequest struct {
	IncludeSelf bool `json:"include_self"`
}

// handleSessionLogoutAll revokes every session for the caller's user
// except optionally the caller's own (POST /v1/session/logout_all).
func (s *Server) handleSessionLogoutAll(w http.ResponseWriter, r *http.Request) {
	var req sessionLogoutAllRequest
	_ = decodeJSON(r, &req)
	userID := auth.UserIDFromContext(r.Context())
	currentToken := auth.SessionTokenFromContext(r.Context())

	keep := currentToken
	if req.IncludeSelf {
		keep = ""
	}
	if _, err := s.rt.Sessions.LogoutAllOtherDevices(r.Context(), userID, keep); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"kept_current": !req.IncludeSelf,
	})
}
