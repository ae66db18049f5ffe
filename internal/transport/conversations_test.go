package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/convgateway/core/internal/domain"
)

func TestRoomCreateAssignsOwnerAndMembers(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/rooms/create", mustEncode(t, roomRequest{Members: []string{"user-2", "user-3"}}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var conv domain.Conversation
	mustDecode(t, rec, &conv)
	if conv.ConvID == "" || conv.OwnerUserID != "user-owner" {
		t.Errorf("expected a conversation owned by user-owner, got %+v", conv)
	}
}

func TestDMCreateRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/dms/create", mustEncode(t, dmCreateRequest{}), owner.SessionToken)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDMCreateRefusedWhenPeerHasBlockedCaller(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	if _, err := s.rt.Presence.Block(context.Background(), "user-peer", []string{"user-owner"}); err != nil {
		t.Fatalf("Block: %v", err)
	}

	rec := doRequest(s, http.MethodPost, "/v1/dms/create", mustEncode(t, dmCreateRequest{PeerUserID: "user-peer", ConvID: "dm-1"}), owner.SessionToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a blocked dm, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRoomInviteAndMembersRoundTrip(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/rooms/create", mustEncode(t, roomRequest{}), owner.SessionToken)
	var conv domain.Conversation
	mustDecode(t, rec, &conv)

	rec = doRequest(s, http.MethodPost, "/v1/rooms/invite", mustEncode(t, roomRequest{ConvID: conv.ConvID, Members: []string{"user-2"}}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("invite: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/v1/rooms/members?conv_id="+conv.ConvID, nil, owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("members: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	mustDecode(t, rec, &body)
	members, ok := body["members"].([]any)
	if !ok || len(members) != 2 {
		t.Fatalf("expected 2 members after invite, got %v", body["members"])
	}
}

func TestRoomMembersRejectsNonMember(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")
	outsider := startSession(t, s, "user-outsider", "device-2")

	rec := doRequest(s, http.MethodPost, "/v1/rooms/create", mustEncode(t, roomRequest{}), owner.SessionToken)
	var conv domain.Conversation
	mustDecode(t, rec, &conv)

	rec = doRequest(s, http.MethodGet, "/v1/rooms/members?conv_id="+conv.ConvID, nil, outsider.SessionToken)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for a non-member, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListConversationsHidesArchivedByDefault(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/rooms/create", mustEncode(t, roomRequest{}), owner.SessionToken)
	var conv domain.Conversation
	mustDecode(t, rec, &conv)

	rec = doRequest(s, http.MethodPost, "/v1/conversations/archive", mustEncode(t, conversationFlagRequest{ConvID: conv.ConvID}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodGet, "/v1/conversations", nil, owner.SessionToken)
	var body map[string]any
	mustDecode(t, rec, &body)
	if items, _ := body["items"].([]any); len(items) != 0 {
		t.Errorf("expected archived conversation hidden by default, got %v", items)
	}

	rec = doRequest(s, http.MethodGet, "/v1/conversations?include_archived=1", nil, owner.SessionToken)
	mustDecode(t, rec, &body)
	if items, _ := body["items"].([]any); len(items) != 1 {
		t.Errorf("expected archived conversation with include_archived=1, got %v", items)
	}
}

func TestMarkReadReportsUnreadCount(t *testing.T) {
	s := newTestServer(t)
	owner := startSession(t, s, "user-owner", "device-1")

	rec := doRequest(s, http.MethodPost, "/v1/rooms/create", mustEncode(t, roomRequest{}), owner.SessionToken)
	var conv domain.Conversation
	mustDecode(t, rec, &conv)

	rec = doRequest(s, http.MethodPost, "/v1/inbox", mustEncode(t, inboxSendRequest{
		ConvID: conv.ConvID, MsgID: "msg-1", Env: "cipher-env", DeviceID: "device-1",
	}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("inbox: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(s, http.MethodPost, "/v1/conversations/mark_read", mustEncode(t, markReadRequest{ConvID: conv.ConvID}), owner.SessionToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark_read: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]any
	mustDecode(t, rec, &body)
	if int64(body["last_read_seq"].(float64)) != 1 {
		t.Errorf("expected last_read_seq 1, got %v", body["last_read_seq"])
	}
	if int64(body["unread_count"].(float64)) != 0 {
		t.Errorf("expected unread_count 0 after marking the latest event read, got %v", body["unread_count"])
	}
}
