package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/pgtest"
)

func TestPostgres_SweepIsIdempotent(t *testing.T) {
	pool, schema := pgtest.Open(t)
	ctx := context.Background()

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	require.NoError(t, err)
	resetStore, err := reset.NewPostgresStore(pool, reset.WithSchema(schema))
	require.NoError(t, err)
	resets, err := reset.NewService(resetStore, nil)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	email := "sweep@example.com"
	u, err := users.CreateUser(ctx, identity.CreateUserInput{
		Username:     "sweep-me",
		Email:        &email,
		PasswordHash: "$argon2id$x",
		IsActive:     true,
		Now:          now.Add(-40 * 24 * time.Hour),
	})
	require.NoError(t, err)

	secret, _, err := resets.Issue(ctx, now.Add(-35*24*time.Hour), u.ID, reset.PurposeInvite)
	require.NoError(t, err)
	require.NoError(t, users.SoftDelete(ctx, u.ID, now.Add(-31*24*time.Hour)))

	sw := NewSweeper(users, nil, resets)

	n, err := sw.AnonymizeSoftDeletedOlderThan(ctx, now, 30)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = sw.AnonymizeSoftDeletedOlderThan(ctx, now, 30)
	require.NoError(t, err)
	require.Zero(t, n)

	got, err := users.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, identity.AnonymizedUsername(u.ID), got.Username)
	require.Nil(t, got.Email)

	_, err = resets.Validate(ctx, now.Add(-30*24*time.Hour), secret)
	require.ErrorIs(t, err, reset.ErrExpired)
}
