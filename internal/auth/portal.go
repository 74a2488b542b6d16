package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Portal tokens are short-lived, single-purpose JWTs embedded in emailed
// links for client-portal account activation and password reset. They are a
// separate scheme from session tokens: a portal token never grants API
// access, it only authorizes the one public endpoint matching its purpose.
// Both endpoints are on the CSRF exempt list because the caller holds no
// cookies yet.

// Portal token purposes.
const (
	PortalPurposeActivate      = "portal_activate"
	PortalPurposeResetPassword = "portal_reset_password"
)

// PortalClaims are the JWT claims carried by a portal token.
type PortalClaims struct {
	Purpose  string `json:"purpose"`
	ClientID int    `json:"client_id"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

var ErrPortalTokenInvalid = errors.New("invalid or expired portal token")

// MintPortalToken issues a portal token for the given purpose, client, and
// email address, expiring after ttl.
func MintPortalToken(purpose string, clientID int, email string, ttl time.Duration) (string, error) {
	if purpose != PortalPurposeActivate && purpose != PortalPurposeResetPassword {
		return "", fmt.Errorf("mint portal token: unknown purpose %q", purpose)
	}
	if clientID <= 0 {
		return "", errors.New("mint portal token: client id is required")
	}
	if email == "" {
		return "", errors.New("mint portal token: email is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := timeNow()
	claims := &PortalClaims{
		Purpose:  purpose,
		ClientID: clientID,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "practicedesk",
			Subject:   fmt.Sprintf("client:%d", clientID),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(signingSecret()))
}

// ParsePortalToken validates a portal token and checks it was minted for the
// expected purpose. A token minted for activation can never reset a password
// and vice versa.
func ParsePortalToken(tokenString, expectedPurpose string) (*PortalClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PortalClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(signingSecret()), nil
	}, jwt.WithTimeFunc(timeNow))
	if err != nil || !token.Valid {
		return nil, ErrPortalTokenInvalid
	}

	claims, ok := token.Claims.(*PortalClaims)
	if !ok {
		return nil, ErrPortalTokenInvalid
	}
	if claims.Purpose != expectedPurpose {
		return nil, ErrPortalTokenInvalid
	}

	return claims, nil
}
