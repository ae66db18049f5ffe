package transport

import (
	"net/http"
	"testing"
)

func TestPresenceWatchAndStatusRoundTrip(t *testing.T) {
	s := newTestServer(t)
	watcher := startSession(t, s, "user-watcher", "device-watcher")
	target := startSession(t, s, "user-target", "device-target")

	rec := doRequest(s, http.MethodPost, "/v1/presence/watch", mustEncode(t, presenceContactsRequest{Contacts: []string{"user-target"}}), watcher.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("watch (watcher side): expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doRequest(s, http.MethodPost, "/v1/presence/watch", mustEncode(t, presenceContactsRequest{Contacts: []string{"user-watcher"}}), target.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("watch (target side): expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/v1/presence/lease", mustEncode(t, presenceLeaseRequest{DeviceID: "device-target", TTLSeconds: 60}), target.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("lease: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/v1/presence/status", mustEncode(t, presenceContactsRequest{Contacts: []string{"user-target"}}), watcher.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	mustDecode(t, rec, &body)
	statuses, ok := body["statuses"].([]any)
	if !ok || len(statuses) != 1 {
		t.Fatalf("expected one status entry, got %v", body["statuses"])
	}
	entry := statuses[0].(map[string]any)
	if entry["status"] != "online" {
		t.Errorf("expected target online, got %v", entry["status"])
	}
}

func TestPresenceLeaseRequiresDeviceID(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "user-1", "device-1")
	rec := doRequest(s, http.MethodPost, "/v1/presence/lease", mustEncode(t, presenceLeaseRequest{TTLSeconds: 60}), sess.SessionToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPresenceBlockAndBlockListRoundTrip(t *testing.T) {
	s := newTestServer(t)
	sess := startSession(t, s, "user-1", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/presence/block", mustEncode(t, presenceContactsRequest{Contacts: []string{"user-2", "user-3"}}), sess.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("block: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/v1/presence/blocklist", nil, sess.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("blocklist: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	mustDecode(t, rec, &body)
	blocked, _ := body["blocked"].([]any)
	if len(blocked) != 2 {
		t.Errorf("expected 2 blocked contacts, got %v", blocked)
	}
}
