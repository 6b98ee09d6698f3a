package session

import (
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"warden/cmd/identity"
)

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds an AccessTokenManager based on PASETO v4.public.
//
// It uses an Ed25519 asymmetric keypair and enforces issuer and expiration rules.
// Clock skew is applied during verification via ValidAt to tolerate minor clock differences.
func NewPasetoV4PublicManager(cfg Config) (AccessTokenManager, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.PasetoV4SecretKeyHex)
	if err != nil {
		return nil, ErrConfig
	}
	if cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}

	return &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *pasetoV4PublicManager) Format() TokenFormat { return FormatPaseto }

// PublicKeyHex exports the verification key for other services.
func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(u identity.User, now time.Time) (string, time.Time, error) {
	// Claims are RFC 3339 with second precision.
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetJti(uuid.NewString())
	tok.SetIssuer(m.issuer)
	tok.SetSubject(u.ID)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)

	if err := tok.Set("username", u.Username); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("role", string(u.Role)); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("is_active", u.IsActive); err != nil {
		return "", time.Time{}, err
	}
	if err := tok.Set("must_reset_password", u.MustResetPassword); err != nil {
		return "", time.Time{}, err
	}

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (AccessClaims, error) {
	// Validate slightly in the future so "nbf"/"iat" from a fast clock pass.
	// This also makes expiration checks slightly stricter.
	validAt := now.Add(m.clockSkew)

	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.ValidAt(validAt))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return AccessClaims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	roleRaw, err := parsed.GetString("role")
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	role, err := identity.ParseRole(roleRaw)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	var isActive, mustReset bool
	if err := parsed.Get("is_active", &isActive); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}
	if err := parsed.Get("must_reset_password", &mustReset); err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	jti, _ := parsed.GetJti()
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()
	username, _ := parsed.GetString("username")

	return AccessClaims{
		ID:                jti,
		Subject:           sub,
		Username:          username,
		Role:              role,
		IsActive:          isActive,
		MustResetPassword: mustReset,
		IssuedAt:          iat,
		ExpiresAt:         exp,
		Issuer:            iss,
	}, nil
}
