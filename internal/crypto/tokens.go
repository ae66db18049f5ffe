package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// RandomToken returns a high-entropy, URL-safe token with the given
// prefix, mirroring sqlite_sessions.py's st_/rt_ token shape
// (secrets.token_urlsafe(16) equivalent: 16 random bytes, base64url).
func RandomToken(prefix string) (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random token: %w", err)
	}
	return prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustRandomToken panics on entropy source failure; acceptable only at
// process boot paths where a broken CSPRNG means the process cannot
// run safely anyway.
func MustRandomToken(prefix string) string {
	tok, err := RandomToken(prefix)
	if err != nil {
		panic(err)
	}
	return tok
}

// DeriveSessionID renders a non-reversible identifier for a session
// token, exposed in session.list responses instead of the token itself.
func DeriveSessionID(sessionToken string) string {
	return SHA256Hex([]byte(sessionToken))[:24]
}
