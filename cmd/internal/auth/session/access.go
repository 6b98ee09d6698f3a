package session

import (
	"time"

	"warden/cmd/identity"
)

// AccessClaims is the identity envelope carried by an access token.
type AccessClaims struct {
	ID                string
	Subject           string
	Username          string
	Role              identity.Role
	IsActive          bool
	MustResetPassword bool
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Issuer            string
}

// AccessTokenManager issues and verifies short-lived access tokens.
// Verify is stateless: it checks signature, issuer and expiry and never
// touches a store.
type AccessTokenManager interface {
	Issue(u identity.User, now time.Time) (token string, exp time.Time, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	Format() TokenFormat
}

// NewAccessTokenManager builds the manager selected by cfg.Format.
func NewAccessTokenManager(cfg Config) (AccessTokenManager, error) {
	switch cfg.Format {
	case FormatJWT, "":
		return NewJWTManager(cfg)
	case FormatPaseto:
		return NewPasetoV4PublicManager(cfg)
	default:
		return nil, ErrConfig
	}
}
