package gatewayerr

import "testing"

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeInvalidRequest, 400},
		{CodeUnauthorized, 401},
		{CodeForbidden, 403},
		{CodeNotFound, 404},
		{CodeConflict, 409},
		{CodeReplayWindowExceeded, 410},
		{CodeRateLimited, 429},
		{CodeLimitExceeded, 409},
		{CodeBackpressure, 499},
		{Code("unmapped"), 500},
	}
	for _, c := range cases {
		if got := c.code.HTTPStatus(); got != c.want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestShorthandConstructors(t *testing.T) {
	if err := Invalid("bad"); err.Code != CodeInvalidRequest || err.Message != "bad" {
		t.Errorf("Invalid: got %+v", err)
	}
	if err := NotFound("missing"); err.Code != CodeNotFound {
		t.Errorf("NotFound: got %+v", err)
	}
	if err := Forbidden("nope"); err.Code != CodeForbidden {
		t.Errorf("Forbidden: got %+v", err)
	}
	if err := Conflict("dup"); err.Code != CodeConflict {
		t.Errorf("Conflict: got %+v", err)
	}
	if err := Internal("boom"); err.Code != CodeInternal {
		t.Errorf("Internal: got %+v", err)
	}
}

func TestReplayWindowExceededDetail(t *testing.T) {
	err := ReplayWindowExceeded("conv-1", 5, 10, 20)
	if err.Code != CodeReplayWindowExceeded {
		t.Fatalf("expected CodeReplayWindowExceeded, got %s", err.Code)
	}
	if err.Detail["conv_id"] != "conv-1" {
		t.Errorf("expected conv_id in detail, got %+v", err.Detail)
	}
	if err.Detail["requested_from_seq"] != int64(5) {
		t.Errorf("expected requested_from_seq 5, got %+v", err.Detail["requested_from_seq"])
	}
}

func TestRateLimitedDetail(t *testing.T) {
	err := RateLimited(30)
	if err.Code != CodeRateLimited {
		t.Fatalf("expected CodeRateLimited, got %s", err.Code)
	}
	if err.Detail["retry_after_s"] != int64(30) {
		t.Errorf("expected retry_after_s 30, got %+v", err.Detail["retry_after_s"])
	}
}

func TestErrorStringIncludesCodeAndMessage(t *testing.T) {
	err := New(CodeForbidden, "blocked")
	if got := err.Error(); got != "forbidden: blocked" {
		t.Errorf("Error() = %q, want %q", got, "forbidden: blocked")
	}
}
