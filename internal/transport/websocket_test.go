package transport

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// dialDuplex spins up a real HTTP server over s's router and dials the
// duplex endpoint, since session.ready requires an actual upgraded
// connection rather than an httptest.ResponseRecorder.
func dialDuplex(t *testing.T, s *Server) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(s.Router())
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		httpSrv.Close()
		t.Fatalf("dial duplex: %v", err)
	}
	return conn, func() {
		_ = conn.Close(websocket.StatusNormalClosure, "test done")
		httpSrv.Close()
	}
}

func TestDuplexSessionReadyCarriesTokensAndCursors(t *testing.T) {
	s := newTestServer(t)
	conn, closeAll := dialDuplex(t, s)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	startFrame := frame{V: 1, T: "session.start", ID: "req-1", Body: mustJSON(sessionStartBody{
		AuthToken: authToken(t, "user-ws"),
		DeviceID:  "device-ws",
	})}
	data, err := json.Marshal(startFrame)
	if err != nil {
		t.Fatalf("marshal session.start: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write session.start: %v", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read session.ready: %v", err)
	}
	var f frame
	if err := json.Unmarshal(reply, &f); err != nil {
		t.Fatalf("unmarshal reply frame: %v", err)
	}
	if f.T != "session.ready" {
		t.Fatalf("expected session.ready, got %q (body %s)", f.T, reply)
	}

	var body struct {
		SessionToken string `json:"session_token"`
		ResumeToken  string `json:"resume_token"`
		ExpiresAt    int64  `json:"expires_at"`
		Cursors      []struct {
			ConvID  string `json:"conv_id"`
			NextSeq int64  `json:"next_seq"`
		} `json:"cursors"`
	}
	if err := json.Unmarshal(f.Body, &body); err != nil {
		t.Fatalf("unmarshal session.ready body: %v", err)
	}
	if body.SessionToken == "" {
		t.Error("expected a non-empty session_token")
	}
	if body.ResumeToken == "" {
		t.Error("expected a non-empty resume_token")
	}
	if body.ExpiresAt == 0 {
		t.Error("expected a non-zero expires_at")
	}
	if body.Cursors == nil {
		t.Error("expected cursors to be present (even if empty) in session.ready")
	}
}
