package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/pgtest"
	"warden/cmd/security/token"
)

func newPostgresFixture(t *testing.T) fixture {
	t.Helper()
	pool, schema := pgtest.Open(t)

	store, err := NewPostgresStore(pool, WithSchema(schema))
	require.NoError(t, err)
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	mgr, err := NewJWTManager(cfg)
	require.NoError(t, err)

	u, err := users.CreateUser(context.Background(), identity.CreateUserInput{
		Username: "navid", PasswordHash: "$argon2id$placeholder", IsActive: true,
	})
	require.NoError(t, err)

	return fixture{svc: NewService(cfg, store, mgr, users, nil, nil), store: store, user: u}
}

func TestPostgresStore_RotateRoundTrip(t *testing.T) {
	t.Parallel()
	f := newPostgresFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := f.svc.Issue(ctx, now, f.user, testMeta)
	require.NoError(t, err)

	second, err := f.svc.Rotate(ctx, now, first.RefreshToken, testMeta)
	require.NoError(t, err)

	old, err := f.store.GetByHash(ctx, token.HashHex(first.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, second.TokenID, *old.ReplacedBy)
	require.Equal(t, "203.0.113.7", old.IP.String())

	_, err = f.svc.Rotate(ctx, now, first.RefreshToken, testMeta)
	require.ErrorIs(t, err, ErrRefreshReused)

	row, err := f.store.GetByHash(ctx, token.HashHex(second.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, row.RevokedAt)
}

func TestPostgresStore_ConcurrentSameSecret(t *testing.T) {
	t.Parallel()
	f := newPostgresFixture(t)
	assertConcurrentRotation(t, f, 8)
}
