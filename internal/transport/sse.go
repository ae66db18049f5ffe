package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/gatewayerr"
)

// handleSSE streams a conversation's events to one device: first the
// backlog from from_seq, then live events as they're broadcast
// (GET /v1/sse?conv_id=...&from_seq=N). A from_seq that's already been
// pruned past the log's retained window fails with
// replay_window_exceeded before any streaming begins.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	convID := r.URL.Query().Get("conv_id")
	deviceID := r.URL.Query().Get("device_id")
	if convID == "" || deviceID == "" {
		writeError(w, gatewayerr.Invalid("conv_id and device_id are required"))
		return
	}
	userID := auth.UserIDFromContext(r.Context())
	if err := s.rt.Conversations.RequireMember(r.Context(), convID, userID); err != nil {
		writeError(w, err)
		return
	}

	fromSeq := atoi64(r.URL.Query().Get("from_seq"), 0)
	if fromSeq == 0 {
		next, err := s.rt.Cursors.NextSeq(r.Context(), deviceID, convID)
		if err != nil {
			writeError(w, err)
			return
		}
		fromSeq = next
	}

	backlog, err := s.rt.Log.Since(r.Context(), convID, fromSeq, 1000)
	if err != nil {
		var gwErr *gatewayerr.Error
		if errors.As(err, &gwErr) {
			writeError(w, gwErr)
			return
		}
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, gatewayerr.Internal("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSEEvent := func(event any) bool {
		payload, err := json.Marshal(event)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	for _, event := range backlog {
		if !writeSSEEvent(event) {
			return
		}
	}

	sub := s.rt.Hub.Subscribe(deviceID, convID)
	defer s.rt.Hub.Unsubscribe(sub)

	heartbeat := time.NewTicker(20 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Dropped():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if !writeSSEEvent(event) {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
