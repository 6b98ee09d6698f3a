package session

import (
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
)

const testJWTSecret = "test-secret-test-secret-test-secret!!"

func testUser() identity.User {
	return identity.User{
		ID:                "01HZZZZZZZZZZZZZZZZZZZZZZZ",
		Username:          "navid",
		Role:              identity.RoleEditor,
		IsActive:          true,
		MustResetPassword: true,
	}
}

func managers(t *testing.T) map[TokenFormat]AccessTokenManager {
	t.Helper()

	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()

	jwtMgr, err := NewJWTManager(cfg)
	require.NoError(t, err)
	pasetoMgr, err := NewPasetoV4PublicManager(cfg)
	require.NoError(t, err)

	return map[TokenFormat]AccessTokenManager{FormatJWT: jwtMgr, FormatPaseto: pasetoMgr}
}

func TestAccessToken_RoundTrip(t *testing.T) {
	for format, mgr := range managers(t) {
		t.Run(string(format), func(t *testing.T) {
			require.Equal(t, format, mgr.Format())

			now := time.Now().UTC()
			tok, exp, err := mgr.Issue(testUser(), now)
			require.NoError(t, err)
			require.True(t, exp.After(now))
			require.LessOrEqual(t, exp.Sub(now), 15*time.Minute)

			claims, err := mgr.Verify(tok, now.Add(time.Second))
			require.NoError(t, err)
			require.Equal(t, "01HZZZZZZZZZZZZZZZZZZZZZZZ", claims.Subject)
			require.Equal(t, "navid", claims.Username)
			require.Equal(t, identity.RoleEditor, claims.Role)
			require.True(t, claims.IsActive)
			require.True(t, claims.MustResetPassword)
			require.Equal(t, "warden", claims.Issuer)
			require.True(t, exp.Equal(claims.ExpiresAt))
			require.NotEmpty(t, claims.ID)
		})
	}
}

func TestAccessToken_Expired(t *testing.T) {
	for format, mgr := range managers(t) {
		t.Run(string(format), func(t *testing.T) {
			now := time.Now().UTC()
			tok, _, err := mgr.Issue(testUser(), now)
			require.NoError(t, err)

			_, err = mgr.Verify(tok, now.Add(16*time.Minute))
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAccessToken_Tampered(t *testing.T) {
	for format, mgr := range managers(t) {
		t.Run(string(format), func(t *testing.T) {
			now := time.Now().UTC()
			tok, _, err := mgr.Issue(testUser(), now)
			require.NoError(t, err)

			// Flip a character inside the signature; trailing characters can
			// carry only padding bits.
			i := len(tok) - 10
			repl := byte('A')
			if tok[i] == 'A' {
				repl = 'B'
			}
			tampered := tok[:i] + string(repl) + tok[i+1:]
			_, err = mgr.Verify(tampered, now)
			require.ErrorIs(t, err, ErrInvalidToken)

			_, err = mgr.Verify("", now)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestAccessToken_ForeignKeyRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	a, err := NewJWTManager(cfg)
	require.NoError(t, err)

	cfg.JWTSecret = strings.Repeat("z", 40)
	b, err := NewJWTManager(cfg)
	require.NoError(t, err)

	now := time.Now().UTC()
	tok, _, err := a.Issue(testUser(), now)
	require.NoError(t, err)
	_, err = b.Verify(tok, now)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAccessToken_WrongIssuerRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	a, err := NewJWTManager(cfg)
	require.NoError(t, err)

	cfg.Issuer = "someone-else"
	b, err := NewJWTManager(cfg)
	require.NoError(t, err)

	now := time.Now().UTC()
	tok, _, err := a.Issue(testUser(), now)
	require.NoError(t, err)
	_, err = b.Verify(tok, now)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewAccessTokenManager_SelectsFormat(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	mgr, err := NewAccessTokenManager(cfg)
	require.NoError(t, err)
	require.Equal(t, FormatJWT, mgr.Format())

	cfg.Format = FormatPaseto
	cfg.PasetoV4SecretKeyHex = "not-hex"
	_, err = NewAccessTokenManager(cfg)
	require.ErrorIs(t, err, ErrConfig)

	cfg.Format = "saml"
	_, err = NewAccessTokenManager(cfg)
	require.ErrorIs(t, err, ErrConfig)
}
