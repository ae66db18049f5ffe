package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/convgateway/core/internal/auth"
	"github.com/convgateway/core/internal/config"
	"github.com/convgateway/core/internal/runtime"
)

const testJWTKey = "transport-test-signing-key"

// newTestServer builds a Server over a freshly wired in-memory
// Runtime. Every call registers its own Metrics against the default
// Prometheus registry, so tests in this package share one instance
// via testServer rather than constructing a fresh Server each.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Port:          "8080",
		DBPath:        ":memory:",
		JWTSigningKey: testJWTKey,
		GatewayID:     "gw-test",
		Retention: config.RetentionConfig{
			MaxEventsPerConv: 1000,
			SweepIntervalS:   60,
		},
		Cursor: config.CursorConfig{StaleAfterS: 3600},
		RateLimit: config.RateLimitConfig{
			ConvSendsPerMin:       1000,
			SocialPublishesPerMin: 1000,
			DMCreatesPerMin:       1000,
			PresenceWatchPerMin:   1000,
			PresenceRenewPerMin:   1000,
		},
		Presence: config.PresenceConfig{
			MinTTLS:              15,
			MaxTTLS:              300,
			SweeperIntervalS:     10,
			MaxWatchlistSize:     256,
			MaxWatchersPerTarget: 256,
		},
		Transport: config.TransportConfig{
			PingIntervalS:     30,
			OutboundQueueSize: 1000,
		},
		Session: config.SessionConfig{TTL: 30 * 24 * time.Hour},
	}
	rt, err := runtime.New(cfg)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return NewServer(rt)
}

// authToken signs a JWT the way an identity provider upstream of the
// gateway would, for use as the auth_token in session.start requests.
func authToken(t *testing.T, userID string) string {
	t.Helper()
	claims := auth.AuthTokenClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTKey))
	if err != nil {
		t.Fatalf("sign auth token: %v", err)
	}
	return signed
}

// startSession drives POST /v1/session/start for userID/deviceID and
// returns the minted session_token.
func startSession(t *testing.T, s *Server, userID, deviceID string) sessionResponse {
	t.Helper()
	body := mustEncode(t, sessionStartRequest{AuthToken: authToken(t, userID), DeviceID: deviceID})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/session/start", body)
	s.Router().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("session/start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	mustDecode(t, rec, &resp)
	return resp
}

func mustEncode(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode request body: %v", err)
	}
	return bytes.NewReader(b)
}

func mustDecode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(io.Reader(rec.Body)).Decode(v); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
}

// doRequest sends method/target through the server's router, setting
// a bearer Authorization header when sessionToken is non-empty. Pass
// a nil body for requests with no payload.
func doRequest(s *Server, method, target string, body io.Reader, sessionToken string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, body)
	if sessionToken != "" {
		r.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	return rec
}

// doRequestWithHeader is doRequest plus one extra request header, for
// cases like conditional GETs that need If-None-Match set.
func doRequestWithHeader(s *Server, method, target, sessionToken, headerKey, headerValue string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	if sessionToken != "" {
		r.Header.Set("Authorization", "Bearer "+sessionToken)
	}
	r.Header.Set(headerKey, headerValue)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, r)
	return rec
}
