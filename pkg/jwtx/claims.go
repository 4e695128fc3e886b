package jwtx

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// IDClaims are the identity claims carried by a provider-issued ID token.
type IDClaims struct {
	jwt.RegisteredClaims

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`

	// UserID duplicates sub on some providers.
	UserID string `json:"user_id,omitempty"`
}

// ParseUnverified decodes the claims of an ID token without checking its
// signature. The token must have come straight from the provider over TLS;
// it is never accepted from a client.
func ParseUnverified(raw string) (IDClaims, error) {
	var c IDClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &c); err != nil {
		return IDClaims{}, errors.Join(ErrMalformed, err)
	}
	if c.SubjectID() == "" {
		return IDClaims{}, ErrInvalidClaim
	}
	return c, nil
}

// SubjectID returns sub, falling back to user_id.
func (c *IDClaims) SubjectID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *IDClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// ValidateExpiryWithLeeway checks exp and nbf with a small grace period for
// clock skew.
func (c *IDClaims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}
