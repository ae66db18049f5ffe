package transport

import (
	"net/http"
	"testing"
)

func TestKeypackagePublishThenFetch(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/keypackages", mustEncode(t, keypackagePublishRequest{
		DeviceID: "device-1", Keypackages: []string{"kp-1", "kp-2"},
	}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/v1/keypackages/fetch", mustEncode(t, keypackageFetchRequest{
		UserID: "user-owner", Count: 1,
	}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	mustDecode(t, rec, &body)
	kps, ok := body["keypackages"].([]any)
	if !ok || len(kps) != 1 {
		t.Fatalf("expected 1 keypackage issued, got %v", body["keypackages"])
	}
}

func TestKeypackageFetchRejectsNonPositiveCount(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")
	rec := doRequest(s, http.MethodPost, "/v1/keypackages/fetch", mustEncode(t, keypackageFetchRequest{
		UserID: "user-owner", Count: -1,
	}), owner.SessionToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestKeypackageRotateRevokesUnissuedBatch(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	doRequest(s, http.MethodPost, "/v1/keypackages", mustEncode(t, keypackagePublishRequest{
		DeviceID: "device-1", Keypackages: []string{"kp-1", "kp-2"},
	}), owner.SessionToken)

	rec := doRequest(s, http.MethodPost, "/v1/keypackages/rotate", mustEncode(t, keypackageRotateRequest{
		DeviceID: "device-1", Revoke: true, Replacement: []string{"kp-3"},
	}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/v1/keypackages/fetch", mustEncode(t, keypackageFetchRequest{
		UserID: "user-owner", Count: 10,
	}), owner.SessionToken)
	var body map[string]any
	mustDecode(t, rec, &body)
	kps, _ := body["keypackages"].([]any)
	if len(kps) != 1 {
		t.Fatalf("expected only the replacement batch available, got %v", kps)
	}
}
