package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"warden/cmd/identity"
)

type jwtClaims struct {
	Username          string `json:"username"`
	Role              string `json:"role"`
	IsActive          bool   `json:"is_active"`
	MustResetPassword bool   `json:"must_reset_password"`
	jwt.RegisteredClaims
}

type jwtManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration
	secret    []byte
}

// NewJWTManager builds an HS256 AccessTokenManager.
func NewJWTManager(cfg Config) (AccessTokenManager, error) {
	if len(cfg.JWTSecret) < 32 || cfg.AccessTokenTTL <= 0 {
		return nil, ErrConfig
	}
	return &jwtManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		secret:    []byte(cfg.JWTSecret),
	}, nil
}

func (m *jwtManager) Format() TokenFormat { return FormatJWT }

func (m *jwtManager) Issue(u identity.User, now time.Time) (string, time.Time, error) {
	// NumericDate has second precision; keep the returned exp identical.
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(m.ttl)

	claims := jwtClaims{
		Username:          u.Username,
		Role:              string(u.Role),
		IsActive:          u.IsActive,
		MustResetPassword: u.MustResetPassword,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   u.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (m *jwtManager) Verify(token string, now time.Time) (AccessClaims, error) {
	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return AccessClaims{}, ErrInvalidToken
	}
	role, err := identity.ParseRole(claims.Role)
	if err != nil {
		return AccessClaims{}, errors.Join(ErrInvalidToken, err)
	}

	out := AccessClaims{
		ID:                claims.ID,
		Subject:           claims.Subject,
		Username:          claims.Username,
		Role:              role,
		IsActive:          claims.IsActive,
		MustResetPassword: claims.MustResetPassword,
		ExpiresAt:         claims.ExpiresAt.Time,
		Issuer:            claims.Issuer,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
