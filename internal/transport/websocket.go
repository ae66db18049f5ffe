package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
	"github.com/convgateway/core/internal/hub"
)

// frame is the wire shape of every duplex message (§6.2): a one-byte
// version, a type tag, and an arbitrary body keyed by type.
type frame struct {
	V    int             `json:"v"`
	T    string          `json:"t"`
	ID   string          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Client frame bodies.
type sessionStartBody struct {
	AuthToken        string `json:"auth_token"`
	DeviceID         string `json:"device_id"`
	DeviceCredential string `json:"device_credential"`
	ClientLabel      string `json:"client_label"`
}

type sessionResumeBody struct {
	ResumeToken string `json:"resume_token"`
}

type convSubscribeBody struct {
	ConvID  string `json:"conv_id"`
	FromSeq *int64 `json:"from_seq,omitempty"`
}

type convSendBody struct {
	ConvID string `json:"conv_id"`
	MsgID  string `json:"msg_id"`
	Env    string `json:"env"`
	TS     *int64 `json:"ts,omitempty"`
}

type convAckBody struct {
	ConvID string `json:"conv_id"`
	Seq    int64  `json:"seq"`
}

// wsConn is one duplex connection's session state, torn down when the
// socket closes.
type wsConn struct {
	s            *Server
	conn         *websocket.Conn
	userID       string
	deviceID     string
	sessionToken string
	resumeToken  string
	expiresAtMs  int64

	writeMu sync.Mutex
	subs    map[string]*hub.Subscription

	outbox chan frame
}

// handleDuplex upgrades an HTTP request to the duplex frame protocol
// (GET /v1/ws). The first frame must be session.start or
// session.resume; everything after is authenticated by that session.
func (s *Server) handleDuplex(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedWSOrigins,
	})
	if err != nil {
		slog.Error("failed to accept duplex websocket", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "closing") }()

	s.rt.Metrics.ConnectionOpened()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wc := &wsConn{
		s:      s,
		conn:   conn,
		subs:   make(map[string]*hub.Subscription),
		outbox: make(chan frame, 256),
	}

	if !wc.handshake(ctx) {
		s.rt.Metrics.ConnectionClosed("handshake_failed")
		return
	}
	defer wc.teardown()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		wc.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		wc.readLoop(ctx)
	}()
	wg.Wait()

	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	s.rt.Metrics.ConnectionClosed("closed")
}

// handshake reads exactly one frame and requires it to be
// session.start or session.resume, replying with session.ready.
func (wc *wsConn) handshake(ctx context.Context) bool {
	_, data, err := wc.conn.Read(ctx)
	if err != nil {
		return false
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		wc.sendError(ctx, "", gatewayerr.Invalid("malformed frame"))
		return false
	}

	switch f.T {
	case "session.start":
		var body sessionStartBody
		if err := json.Unmarshal(f.Body, &body); err != nil || body.DeviceID == "" {
			wc.sendError(ctx, f.ID, gatewayerr.Invalid("device_id is required"))
			return false
		}
		userID, err := auth.VerifyAuthToken(body.AuthToken, []byte(wc.s.rt.Config.JWTSigningKey))
		if err != nil {
			wc.sendError(ctx, f.ID, err)
			return false
		}
		sess, err := wc.s.rt.Sessions.Start(ctx, userID, body.DeviceID, body.ClientLabel)
		if err != nil {
			wc.sendError(ctx, f.ID, err)
			return false
		}
		wc.userID, wc.deviceID, wc.sessionToken = sess.UserID, body.DeviceID, sess.SessionToken
		wc.resumeToken, wc.expiresAtMs = sess.ResumeToken, sess.ExpiresAtMs
	case "session.resume":
		var body sessionResumeBody
		if err := json.Unmarshal(f.Body, &body); err != nil {
			wc.sendError(ctx, f.ID, gatewayerr.Invalid("resume_token is required"))
			return false
		}
		sess, err := wc.s.rt.Sessions.Resume(ctx, body.ResumeToken)
		if err != nil {
			wc.sendError(ctx, f.ID, err)
			return false
		}
		wc.userID, wc.deviceID, wc.sessionToken = sess.UserID, sess.DeviceID, sess.SessionToken
		wc.resumeToken, wc.expiresAtMs = sess.ResumeToken, sess.ExpiresAtMs
	default:
		wc.sendError(ctx, f.ID, gatewayerr.Invalid("first frame must be session.start or session.resume"))
		return false
	}

	wc.s.rt.Presence.RegisterDevice(wc.userID, wc.deviceID, func(status domain.PresenceStatus) {
		wc.enqueue(frame{V: 1, T: "presence.update", Body: mustJSON(status)})
	})

	cursorRows, err := wc.s.rt.Cursors.List(ctx, wc.deviceID)
	if err != nil {
		wc.sendError(ctx, f.ID, err)
		return false
	}
	cursorsOut := make([]map[string]any, 0, len(cursorRows))
	for _, c := range cursorRows {
		cursorsOut = append(cursorsOut, map[string]any{"conv_id": c.ConvID, "next_seq": c.NextSeq})
	}

	wc.send(ctx, frame{V: 1, T: "session.ready", Body: mustJSON(map[string]any{
		"session_token": wc.sessionToken,
		"resume_token":  wc.resumeToken,
		"expires_at":    wc.expiresAtMs,
		"cursors":       cursorsOut,
	})})
	return true
}

func (wc *wsConn) teardown() {
	wc.s.rt.Presence.UnregisterDevice(wc.deviceID)
	for _, sub := range wc.subs {
		wc.s.rt.Hub.Unsubscribe(sub)
	}
}

// readLoop dispatches every subsequent client frame by type.
func (wc *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := wc.conn.Read(ctx)
		if err != nil {
			return
		}
		wc.s.rt.Metrics.FrameReceived()
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			wc.sendError(ctx, "", gatewayerr.Invalid("malformed frame"))
			continue
		}
		wc.dispatch(ctx, f)
	}
}

func (wc *wsConn) dispatch(ctx context.Context, f frame) {
	switch f.T {
	case "conv.subscribe":
		wc.handleSubscribe(ctx, f)
	case "conv.send":
		wc.handleSend(ctx, f)
	case "conv.ack":
		wc.handleAck(ctx, f)
	case "ping":
		wc.enqueue(frame{V: 1, T: "pong", ID: f.ID})
	case "pong":
		// liveness only, no reply
	default:
		wc.sendError(ctx, f.ID, gatewayerr.Invalid("unknown frame type"))
	}
}

func (wc *wsConn) handleSubscribe(ctx context.Context, f frame) {
	var body convSubscribeBody
	if err := json.Unmarshal(f.Body, &body); err != nil || body.ConvID == "" {
		wc.sendError(ctx, f.ID, gatewayerr.Invalid("conv_id is required"))
		return
	}
	if err := wc.s.rt.Conversations.RequireMember(ctx, body.ConvID, wc.userID); err != nil {
		wc.sendError(ctx, f.ID, err)
		return
	}

	fromSeq := int64(0)
	if body.FromSeq != nil {
		fromSeq = *body.FromSeq
	} else if next, err := wc.s.rt.Cursors.NextSeq(ctx, wc.deviceID, body.ConvID); err == nil {
		fromSeq = next
	}

	backlog, err := wc.s.rt.Log.Since(ctx, body.ConvID, fromSeq, 1000)
	if err != nil {
		wc.sendError(ctx, f.ID, err)
		return
	}
	for _, event := range backlog {
		wc.enqueue(frame{V: 1, T: "conv.event", Body: mustJSON(event)})
	}

	if sub, exists := wc.subs[body.ConvID]; exists {
		wc.s.rt.Hub.Unsubscribe(sub)
	}
	sub := wc.s.rt.Hub.Subscribe(wc.deviceID, body.ConvID)
	wc.subs[body.ConvID] = sub
	go wc.pumpSubscription(ctx, sub)
}

func (wc *wsConn) pumpSubscription(ctx context.Context, sub *hub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Dropped():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			wc.enqueue(frame{V: 1, T: "conv.event", Body: mustJSON(event)})
		}
	}
}

func (wc *wsConn) handleSend(ctx context.Context, f frame) {
	var body convSendBody
	if err := json.Unmarshal(f.Body, &body); err != nil || body.ConvID == "" || body.MsgID == "" || body.Env == "" {
		wc.sendError(ctx, f.ID, gatewayerr.Invalid("conv_id, msg_id and env are required"))
		return
	}
	if err := wc.s.rt.Conversations.RequireMember(ctx, body.ConvID, wc.userID); err != nil {
		wc.sendError(ctx, f.ID, err)
		return
	}
	if ok, retryAfterS := wc.s.rt.ConvSendLimiter.Allow(body.ConvID+":"+wc.userID, domain.NowMs()); !ok {
		wc.sendError(ctx, f.ID, gatewayerr.RateLimited(retryAfterS))
		return
	}
	tsMs := domain.NowMs()
	if body.TS != nil {
		tsMs = *body.TS
	}
	start := time.Now()
	event, err := wc.s.rt.Log.Append(ctx, body.ConvID, body.MsgID, body.Env, wc.deviceID, tsMs)
	if err != nil {
		wc.sendError(ctx, f.ID, err)
		return
	}
	wc.s.rt.Metrics.RecordAppend(time.Since(start))
	wc.enqueue(frame{V: 1, T: "conv.acked", ID: f.ID, Body: mustJSON(event)})
}

func (wc *wsConn) handleAck(ctx context.Context, f frame) {
	var body convAckBody
	if err := json.Unmarshal(f.Body, &body); err != nil || body.ConvID == "" {
		wc.sendError(ctx, f.ID, gatewayerr.Invalid("conv_id is required"))
		return
	}
	if _, err := wc.s.rt.Cursors.Ack(ctx, wc.deviceID, body.ConvID, body.Seq); err != nil {
		wc.sendError(ctx, f.ID, err)
	}
}

// writeLoop drains outbox and periodically pings. Frames written
// directly through send from other goroutines (the handshake reply,
// sendError) share writeMu with it, so writes never overlap.
func (wc *wsConn) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-wc.outbox:
			if !ok {
				return
			}
			wc.send(ctx, f)
		case <-ticker.C:
			wc.send(ctx, frame{V: 1, T: "ping"})
		}
	}
}

func (wc *wsConn) enqueue(f frame) {
	select {
	case wc.outbox <- f:
	default:
		wc.s.rt.Metrics.RecordDrop()
	}
}

func (wc *wsConn) send(ctx context.Context, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if err := wc.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return
	}
	wc.s.rt.Metrics.FrameSent()
}

func (wc *wsConn) sendError(ctx context.Context, replyToID string, err error) {
	var gwErr *gatewayerr.Error
	if !errors.As(err, &gwErr) {
		gwErr = gatewayerr.Internal("internal error")
	}
	body := map[string]any{"code": gwErr.Code, "message": gwErr.Message}
	for k, v := range gwErr.Detail {
		body[k] = v
	}
	wc.send(ctx, frame{V: 1, T: "error", ID: replyToID, Body: mustJSON(body)})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
