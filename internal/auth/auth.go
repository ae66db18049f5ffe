// Package auth authenticates two different things: the externally
// issued auth_token JWT a device presents to session.start (verified
// against the gateway's configured signing key before a gateway
// session is minted), and the gateway's own bearer session_token on
// every subsequent REST/websocket request. The context-key and
// middleware-factory shape is carried over from the teacher's
// internal/identity package, generalized from anonymous cookie
// identity to real bearer-token identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/convgateway/core/internal/domain"
	"github.com/convgateway/core/internal/gatewayerr"
)

type contextKey int

const (
	userIDKey contextKey = iota
	deviceIDKey
	sessionTokenKey
)

// UserIDFromContext extracts the authenticated user id, "" if absent.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// DeviceIDFromContext extracts the authenticated device id, "" if absent.
func DeviceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(deviceIDKey).(string)
	return v
}

// SessionTokenFromContext extracts the bearer session token, "" if absent.
func SessionTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(sessionTokenKey).(string)
	return v
}

func withIdentity(ctx context.Context, userID, deviceID, sessionToken string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, deviceIDKey, deviceID)
	ctx = context.WithValue(ctx, sessionTokenKey, sessionToken)
	return ctx
}

// AuthTokenClaims is the shape of the externally issued JWT exchanged
// for a gateway session at session.start/resume.
type AuthTokenClaims struct {
	jwt.RegisteredClaims
}

// VerifyAuthToken validates an inbound auth_token against signingKey
// (HMAC) and returns the subject as the gateway's provisional user id.
// This is the one place spec.md §4.4's "authenticate the auth_token"
// step is implemented; everything downstream trusts the session token
// the gateway itself subsequently mints.
func VerifyAuthToken(tokenString string, signingKey []byte) (userID string, err error) {
	claims := &AuthTokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return "", gatewayerr.Unauthorized("invalid auth token")
	}
	if !token.Valid {
		return "", gatewayerr.Unauthorized("invalid auth token")
	}
	if claims.ExpiresAt == nil && claims.IssuedAt != nil && time.Since(claims.IssuedAt.Time) > defaultAuthTokenTTL {
		return "", gatewayerr.Unauthorized("auth token expired")
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", gatewayerr.Unauthorized("auth token missing subject")
	}
	return subject, nil
}

// SessionLookup is the subset of internal/sessionsvc the middleware needs.
type SessionLookup interface {
	Authenticate(ctx context.Context, sessionToken string) (*domain.Session, error)
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("malformed authorization header")
	}
	return parts[1], nil
}

// Middleware requires a valid bearer session_token on every request,
// injecting user_id/device_id/session_token into the request context.
// Rejections carry WWW-Authenticate and Cache-Control per §7.
func Middleware(sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeUnauthorized(w)
				return
			}
			sess, err := sessions.Authenticate(r.Context(), token)
			if err != nil || sess == nil {
				writeUnauthorized(w)
				return
			}
			ctx := withIdentity(r.Context(), sess.UserID, sess.DeviceID, sess.SessionToken)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"code":"unauthorized","message":"missing or invalid session token"}`))
}

// NowMs is reused by callers that need a timestamp in auth decisions
// without importing domain directly.
func NowMs() int64 { return domain.NowMs() }

// defaultAuthTokenTTL bounds how long an externally issued auth_token
// is trusted after its issued-at time if it carries no expiry claim.
const defaultAuthTokenTTL = 5 * time.Minute
