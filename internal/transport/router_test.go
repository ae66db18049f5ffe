package transport

import (
	"net/http"
	"testing"
)

func TestHealthzReportsOK(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGatewayResolveRequiresGatewayID(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/gateways/resolve", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGatewayResolveUnknownGatewayIsNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/v1/gateways/resolve?gateway_id=gw-unknown", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
