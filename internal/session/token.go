package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/timkado/api/loanguard-gateway/internal/domain"
)

// Claims is the part of a bearer token the client relies on. The signature is
// never checked here; the API does that.
type Claims struct {
	Subject   string
	Role      domain.Role
	ExpiresAt time.Time // zero when the token carries no exp
}

// HasExpiry reports whether the token carried an exp claim.
func (c Claims) HasExpiry() bool {
	return !c.ExpiresAt.IsZero()
}

// Expired reports whether exp is at or before now. Tokens without exp never expire here.
func (c Claims) Expired(now time.Time) bool {
	return c.HasExpiry() && !now.Before(c.ExpiresAt)
}

// ClaimsResult is either decoded claims or the default result for a token that
// could not be decoded. The zero value is the default result.
type ClaimsResult struct {
	claims Claims
	ok     bool
}

// DefaultClaims are reported for tokens that could not be decoded.
var DefaultClaims = Claims{Role: domain.LowestRole}

// Get returns the decoded claims and true, or DefaultClaims and false.
func (r ClaimsResult) Get() (Claims, bool) {
	if !r.ok {
		return DefaultClaims, false
	}
	return r.claims, true
}

// IsDefault reports whether decoding failed.
func (r ClaimsResult) IsDefault() bool {
	return !r.ok
}

var parser = jwt.NewParser()

// DecodeClaims reads the payload segment of token without verifying it. It
// never fails: anything that is not a readable JWT payload yields the default
// result. A missing or unknown role becomes domain.LowestRole.
func DecodeClaims(token string) ClaimsResult {
	if token == "" {
		return ClaimsResult{}
	}

	mc := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, mc); err != nil {
		return ClaimsResult{}
	}

	exp, err := mc.GetExpirationTime()
	if err != nil {
		return ClaimsResult{}
	}
	sub, err := mc.GetSubject()
	if err != nil {
		return ClaimsResult{}
	}

	c := Claims{Subject: sub, Role: domain.LowestRole}
	if role, ok := mc["role"].(string); ok {
		c.Role = domain.ParseRole(role)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}
	return ClaimsResult{claims: c, ok: true}
}
