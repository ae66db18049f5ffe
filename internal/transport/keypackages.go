package transport

import (
	"net/http"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/keypackages"
)

type keypackagePublishRequest struct {
	DeviceID     string   `json:"device_id"`
	Keypackages  []string `json:"keypackages"`
}

// handleKeypackagePublish appends freshly generated keypackages for
// the caller's device (POST /v1/keypackages).
func (s *Server) handleKeypackagePublish(w http.ResponseWriter, r *http.Request) {
	var req keypackagePublishRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("device_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Keypackages.Publish(r.Context(), userID, req.DeviceID, req.Keypackages); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "published": len(req.Keypackages)})
}

type keypackageFetchRequest struct {
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// handleKeypackageFetch issues up to count unissued keypackages for a
// target user across their devices (POST /v1/keypackages/fetch).
func (s *Server) handleKeypackageFetch(w http.ResponseWriter, r *http.Request) {
	var req keypackageFetchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, gatewayerr.Invalid("user_id is required"))
		return
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	if count < 0 {
		writeError(w, gatewayerr.Invalid("count must be a positive integer"))
		return
	}
	kps, err := s.rt.Keypackages.Fetch(r.Context(), req.UserID, count)
	if err != nil {
		writeError(w, err)
		return
	}
	available, err := s.rt.Keypackages.AvailableCount(r.Context(), req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keypackages":   kps,
		"available":     available,
		"low_watermark": available < keypackages.LowWatermark,
	})
}

type keypackageRotateRequest struct {
	DeviceID       string   `json:"device_id"`
	Revoke         bool     `json:"revoke"`
	Replacement    []string `json:"replacement"`
}

// handleKeypackageRotate optionally revokes a device's unissued
// keypackages and publishes a replacement batch
// (POST /v1/keypackages/rotate).
func (s *Server) handleKeypackageRotate(w http.ResponseWriter, r *http.Request) {
	var req keypackageRotateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("device_id is required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Keypackages.Rotate(r.Context(), userID, req.DeviceID, req.Revoke, req.Replacement); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
