package transport

import (
	"net/http"
	"time"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

type inboxSendRequest struct {
	ConvID   string `json:"conv_id"`
	MsgID    string `json:"msg_id"`
	Env      string `json:"env"`
	DeviceID string `json:"device_id"`
	TSMs     int64  `json:"ts_ms"`
}

// handleInboxSend appends one envelope to a conversation's log over
// plain REST, the non-duplex equivalent of a conv.send frame
// (POST /v1/inbox).
func (s *Server) handleInboxSend(w http.ResponseWriter, r *http.Request) {
	var req inboxSendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ConvID == "" || req.MsgID == "" || req.Env == "" || req.DeviceID == "" {
		writeError(w, gatewayerr.Invalid("conv_id, msg_id, env and device_id are required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Conversations.RequireMember(r.Context(), req.ConvID, userID); err != nil {
		writeError(w, err)
		return
	}
	if ok, retryAfterS := s.rt.ConvSendLimiter.Allow(req.ConvID+":"+userID, domain.NowMs()); !ok {
		writeError(w, gatewayerr.RateLimited(retryAfterS))
		return
	}
	tsMs := req.TSMs
	if tsMs == 0 {
		tsMs = domain.NowMs()
	}
	start := time.Now()
	event, err := s.rt.Log.Append(r.Context(), req.ConvID, req.MsgID, req.Env, req.DeviceID, tsMs)
	if err != nil {
		writeError(w, err)
		return
	}
	s.rt.Metrics.RecordAppend(time.Since(start))
	writeJSON(w, http.StatusOK, event)
}
