package session

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// TokenFormat selects the access-token encoding.
type TokenFormat string

const (
	FormatJWT    TokenFormat = "jwt"
	FormatPaseto TokenFormat = "paseto"
)

// Config defines runtime configuration for access and refresh tokens.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens (minutes to an hour).
	AccessTokenTTL time.Duration

	// RefreshTTL is the lifetime of each refresh token. Rotation issues the
	// successor with a fresh RefreshTTL.
	RefreshTTL time.Duration

	// ClockSkew is the tolerance applied during access-token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes is the entropy of generated refresh secrets.
	RefreshTokenBytes int

	Format TokenFormat

	// JWTSecret signs HS256 access tokens. At least 32 bytes.
	JWTSecret string

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string
}

// MaxAccessTokenTTL bounds AccessTokenTTL.
const MaxAccessTokenTTL = time.Hour

// DefaultConfig returns defaults suitable for development. Signing keys are
// left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:            "warden",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTTL:        30 * 24 * time.Hour,
		ClockSkew:         30 * time.Second,
		RefreshTokenBytes: 32,
		Format:            FormatJWT,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Signing key (required for the selected format):
//   - WARDEN_JWT_SECRET (format jwt)
//   - WARDEN_PASETO_V4_SECRET_KEY_HEX (format paseto)
//
// Optional (durations must be valid Go duration strings):
//   - WARDEN_ACCESS_TOKEN_FORMAT (jwt|paseto)
//   - WARDEN_AUTH_ISSUER
//   - WARDEN_AUTH_ACCESS_TTL
//   - WARDEN_AUTH_REFRESH_TTL
//   - WARDEN_AUTH_CLOCK_SKEW
//   - WARDEN_AUTH_REFRESH_TOKEN_BYTES
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("WARDEN_ACCESS_TOKEN_FORMAT")); v != "" {
		cfg.Format = TokenFormat(strings.ToLower(v))
	}

	if v := os.Getenv("WARDEN_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("WARDEN_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("WARDEN_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTTL = d
	}

	if v := os.Getenv("WARDEN_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := os.Getenv("WARDEN_AUTH_REFRESH_TOKEN_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenBytes = n
	}

	cfg.JWTSecret = os.Getenv("WARDEN_JWT_SECRET")
	cfg.PasetoV4SecretKeyHex = os.Getenv("WARDEN_PASETO_V4_SECRET_KEY_HEX")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the config invariants.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL > MaxAccessTokenTTL {
		return ErrConfig
	}
	// Refresh tokens must outlive the access tokens they renew.
	if c.RefreshTTL <= c.AccessTokenTTL {
		return ErrConfig
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return ErrConfig
	}

	switch c.Format {
	case FormatJWT:
		if len(c.JWTSecret) < 32 {
			return ErrConfig
		}
	case FormatPaseto:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return ErrConfig
		}
	default:
		return ErrConfig
	}
	return nil
}
