// Package transport exposes the gateway over HTTP: REST endpoints
// (§6.1), the duplex websocket frame grammar (§6.2), and server-sent
// backlog+live streaming. Response/error encoding is adapted from the
// teacher's internal/api.JSON/Error helpers, generalized to the
// gateway's typed gatewayerr.Error taxonomy.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/convgateway/core/internal/gatewayerr"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError renders err as a {code, message, ...detail} body with the
// HTTP status gatewayerr.Code.HTTPStatus mandates; rate_limited errors
// also carry Retry-After per §6.1.
func writeError(w http.ResponseWriter, err error) {
	var gwErr *gatewayerr.Error
	if !errors.As(err, &gwErr) {
		gwErr = gatewayerr.Internal("internal error")
		slog.Error("unhandled internal error", "error", err)
	}

	body := map[string]any{
		"code":    gwErr.Code,
		"message": gwErr.Message,
	}
	for k, v := range gwErr.Detail {
		body[k] = v
	}
	if gwErr.Code == gatewayerr.CodeRateLimited {
		if retryAfter, ok := gwErr.Detail["retry_after_s"]; ok {
			if n, ok := retryAfter.(int64); ok {
				w.Header().Set("Retry-After", jsonInt(n))
			}
		}
	}
	writeJSON(w, gwErr.Code.HTTPStatus(), body)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// decodeJSON parses the request body into v, returning a typed
// invalid_request error on failure.
func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return gatewayerr.Invalid("malformed request body")
	}
	return nil
}

// atoi64 parses raw as a base-10 int64, falling back to def when raw
// is empty or malformed.
func atoi64(raw string, def int64) int64 {
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
