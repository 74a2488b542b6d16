package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Session token format: base64url(JSON payload) + "." + hex(HMAC-SHA-256).
// The signature is computed over the serialized payload string, keyed with
// the process-wide signing secret. Tokens are self-contained: verification
// needs no database lookup and there is no server-side revocation set, so a
// token stays valid until its expiry or a global secret rotation.

// Role values carried in session tokens.
const (
	RoleAdmin     = "admin"
	RoleTherapist = "therapist"
	RoleStaff     = "staff"
)

// Identity is the authenticated subject carried inside a session token.
type Identity struct {
	UserID   int    `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// tokenPayload is the serialized form of an identity plus its expiry.
type tokenPayload struct {
	Identity
	ExpiresAt int64 `json:"exp"`
}

var (
	// ErrInvalidToken covers malformed tokens and signature mismatches.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("session token expired")
)

// timeNow is swapped out by tests to control token expiry.
var timeNow = time.Now

// CreateSessionToken issues a signed, expiring session token for the given
// identity. All identity fields are required. The function is pure over its
// input and the signing secret; two calls at different times produce different
// tokens (different expiry) that both verify until their respective expiries.
func CreateSessionToken(id Identity, ttl time.Duration) (string, error) {
	if id.UserID <= 0 {
		return "", fmt.Errorf("create session token: user id is required")
	}
	if id.Username == "" {
		return "", fmt.Errorf("create session token: username is required")
	}
	if id.Role == "" {
		return "", fmt.Errorf("create session token: role is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	payload := tokenPayload{
		Identity:  id,
		ExpiresAt: timeNow().Add(ttl).Unix(),
	}

	// json.Marshal of a struct emits fields in declaration order, which gives
	// the canonical serialization the signature is computed over.
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("create session token: %w", err)
	}

	sig := sign(raw)
	return base64.RawURLEncoding.EncodeToString(raw) + "." + hex.EncodeToString(sig), nil
}

// VerifySessionToken checks a token's signature and expiry and returns the
// embedded identity. Verification is stateless: no database lookup, no
// revocation list.
func VerifySessionToken(token string) (*Identity, error) {
	encodedPayload, sigHex, found := strings.Cut(token, ".")
	if !found || encodedPayload == "" || sigHex == "" {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, ErrInvalidToken
	}

	suppliedSig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, ErrInvalidToken
	}

	// hmac.Equal is constant-time over equal-length inputs.
	if !hmac.Equal(sign(raw), suppliedSig) {
		return nil, ErrInvalidToken
	}

	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if payload.UserID <= 0 || payload.Username == "" || payload.Role == "" {
		return nil, ErrInvalidToken
	}

	if timeNow().Unix() >= payload.ExpiresAt {
		return nil, ErrTokenExpired
	}

	identity := payload.Identity
	return &identity, nil
}

// SessionExpiry returns the absolute expiry a token minted now with ttl
// carries. Used by login handlers to stamp the session visibility row with
// the same expiry as the token.
func SessionExpiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return timeNow().Add(ttl)
}

// GenerateCSRFToken returns a random token for the double-submit CSRF cookie.
func GenerateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// sign computes the keyed MAC over the serialized payload.
func sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(signingSecret()))
	mac.Write(payload)
	return mac.Sum(nil)
}
