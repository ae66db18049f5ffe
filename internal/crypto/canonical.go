// Package crypto implements the gateway's signing primitives: Ed25519
// sign/verify over canonical JSON, and SHA-256 digesting for the
// social event chain (§4.8, Design Notes "Canonical JSON for signing").
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v with keys sorted ASCII-lexicographically and
// no insignificant whitespace. encoding/json already sorts
// map[string]any keys and emits compact output by default, which
// satisfies the wire contract for the JSON object shapes this gateway
// signs; HTML-escaping is disabled so the bytes that get hashed and
// signed match exactly what a client canonicalizer would produce.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical json encode: %w", err)
	}
	// json.Encoder.Encode appends a trailing newline; the wire contract
	// has no insignificant whitespace at all.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// SocialEventCanonical builds the canonical signing payload for a
// social chain event: {kind, payload, prev_hash, ts_ms, user_id}.
// prev_hash is the empty string for a chain head, never omitted.
func SocialEventCanonical(kind string, payload any, prevHash string, tsMs int64, userID string) ([]byte, error) {
	return CanonicalJSON(map[string]any{
		"kind":      kind,
		"payload":   payload,
		"prev_hash": prevHash,
		"ts_ms":     tsMs,
		"user_id":   userID,
	})
}

// SHA256Hex returns the lowercase-hex SHA-256 digest of b.
func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum)
}

// DecodePublicKey decodes a base64url-no-padding Ed25519 public key, as
// carried directly in a social user_id.
func DecodePublicKey(userID string) (ed25519.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(userID)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode public key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// VerifySignature verifies sigB64 (base64url-no-padding) over message
// using the Ed25519 public key encoded in userID.
func VerifySignature(userID string, message []byte, sigB64 string) (bool, error) {
	pub, err := DecodePublicKey(userID)
	if err != nil {
		return false, err
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pub, message, sig), nil
}

// Sign produces a base64url-no-padding Ed25519 signature; used only by
// tests that need to construct valid fixtures end-to-end.
func Sign(priv ed25519.PrivateKey, message []byte) string {
	sig := ed25519.Sign(priv, message)
	return base64.RawURLEncoding.EncodeToString(sig)
}

// EncodePublicKey renders a public key the way a social user_id does.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return base64.RawURLEncoding.EncodeToString(pub)
}

// DeriveShortUserID renders the "u_"-prefixed short hash form used only
// for internal logging/metrics labels (original_source derive_user_id);
// the wire user_id stays the raw public key encoding per spec.md.
func DeriveShortUserID(userID string) string {
	return "u_" + SHA256Hex([]byte(userID))
}
