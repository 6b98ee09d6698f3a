package identity

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func mustCreate(t *testing.T, s Store, username string, email *string) User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), CreateUserInput{
		Username:     username,
		Email:        email,
		PasswordHash: "$argon2id$placeholder",
		IsActive:     true,
		Now:          time.Now().UTC(),
	})
	require.NoError(t, err)
	return u
}

func TestMemoryStore_CreateUser_ConflictCaseInsensitive(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	u := mustCreate(t, s, "Navid", strPtr("User@Example.com"))
	require.Equal(t, "navid", u.UsernameNorm)
	require.Equal(t, RoleUser, u.Role)
	require.Len(t, u.ID, 26)

	_, err := s.CreateUser(context.Background(), CreateUserInput{
		Username: "nAvId", PasswordHash: "x", IsActive: true,
	})
	require.True(t, IsConflict(err))

	_, err = s.CreateUser(context.Background(), CreateUserInput{
		Username: "other", Email: strPtr("user@example.COM"), PasswordHash: "x", IsActive: true,
	})
	require.True(t, IsConflict(err))
}

func TestMemoryStore_CreateUser_Invalid(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateUser(ctx, CreateUserInput{Username: " ", PasswordHash: "x"})
	require.True(t, IsInvalidInput(err))

	_, err = s.CreateUser(ctx, CreateUserInput{Username: "a", PasswordHash: ""})
	require.True(t, IsInvalidInput(err))

	_, err = s.CreateUser(ctx, CreateUserInput{Username: "deleted-abc", PasswordHash: "x"})
	require.True(t, IsInvalidInput(err))

	_, err = s.CreateUser(ctx, CreateUserInput{Username: "a", PasswordHash: "x", Role: "root"})
	require.True(t, IsInvalidInput(err))
}

func TestMemoryStore_Lookup(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "Alice", strPtr("alice@example.com"))

	got, err := s.GetUserByUsername(ctx, "  ALICE ")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	got, err = s.GetUserByEmail(ctx, "Alice@Example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	_, err = s.GetUserByID(ctx, "missing")
	require.True(t, IsNotFound(err))
}

func TestMemoryStore_LockoutAfterFiveFailures(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "bob", nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := DefaultLockoutPolicy()

	for i := 1; i <= 4; i++ {
		f, err := s.RecordLoginFailure(ctx, u.ID, now, policy)
		require.NoError(t, err)
		require.Equal(t, i, f.Count)
		require.False(t, f.Locked)
		require.Nil(t, f.LockedUntil)
	}

	f, err := s.RecordLoginFailure(ctx, u.ID, now, policy)
	require.NoError(t, err)
	require.True(t, f.Locked)
	require.Equal(t, now.Add(10*time.Minute), *f.LockedUntil)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, StatusLocked, CheckStatus(got, now))

	require.NoError(t, s.RecordLoginSuccess(ctx, u.ID, now))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Zero(t, got.LoginFailedCount)
	require.Nil(t, got.LockedUntil)
	require.Equal(t, now, *got.LastLoginAt)
}

func TestMemoryStore_ConcurrentFailuresCountExactly(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	u := mustCreate(t, s, "carol", nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.RecordLoginFailure(context.Background(), u.ID, time.Now(), DefaultLockoutPolicy())
		}()
	}
	wg.Wait()

	got, err := s.GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, 20, got.LoginFailedCount)
}

func TestMemoryStore_SetPasswordClearsState(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	u, err := s.CreateUser(ctx, CreateUserInput{
		Username: "dave", PasswordHash: "old", IsActive: true, MustResetPassword: true,
	})
	require.NoError(t, err)
	_, err = s.RecordLoginFailure(ctx, u.ID, now, DefaultLockoutPolicy())
	require.NoError(t, err)

	require.NoError(t, s.SetPassword(ctx, u.ID, "new", now))

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new", got.PasswordHash)
	require.False(t, got.MustResetPassword)
	require.Zero(t, got.LoginFailedCount)
}

func TestMemoryStore_UpdateAccess(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "erin", nil)

	role := RoleEditor
	inactive := false
	from := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.UpdateAccess(ctx, u.ID, AccessUpdate{Role: &role, IsActive: &inactive, ValidFrom: &from}, time.Now())
	require.NoError(t, err)
	require.Equal(t, RoleEditor, got.Role)
	require.False(t, got.IsActive)
	require.Equal(t, from, *got.ValidFrom)

	got, err = s.UpdateAccess(ctx, u.ID, AccessUpdate{ClearValidFrom: true}, time.Now())
	require.NoError(t, err)
	require.Nil(t, got.ValidFrom)
	require.Equal(t, RoleEditor, got.Role)

	bad := Role("root")
	_, err = s.UpdateAccess(ctx, u.ID, AccessUpdate{Role: &bad}, time.Now())
	require.True(t, IsInvalidInput(err))
}

func TestMemoryStore_AnonymizeLifecycle(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	ctx := context.Background()
	u := mustCreate(t, s, "frank", strPtr("frank@example.com"))
	deletedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, err := s.Anonymize(ctx, u.ID, deletedAt)
	require.NoError(t, err)
	require.False(t, ok, "not soft-deleted yet")

	require.NoError(t, s.SoftDelete(ctx, u.ID, deletedAt))

	ids, err := s.ListAnonymizable(ctx, deletedAt.Add(time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, []string{u.ID}, ids)

	ids, err = s.ListAnonymizable(ctx, deletedAt, 10)
	require.NoError(t, err)
	require.Empty(t, ids)

	ok, err = s.Anonymize(ctx, u.ID, deletedAt.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got.Username, AnonymizedUsernamePrefix))
	require.Equal(t, AnonymizedUsername(u.ID), got.UsernameNorm)
	require.Nil(t, got.Email)
	require.Nil(t, got.DisplayName)
	require.Nil(t, got.LastLoginAt)
	require.Equal(t, InvalidPasswordHash, got.PasswordHash)

	ok, err = s.Anonymize(ctx, u.ID, deletedAt.Add(2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)

	// The scrubbed username and email are free again.
	mustCreate(t, s, "frank", strPtr("frank@example.com"))
}

func TestAnonymizedUsername_Stable(t *testing.T) {
	t.Parallel()

	a := AnonymizedUsername("01HZX0000000000000000000AA")
	require.Equal(t, a, AnonymizedUsername("01HZX0000000000000000000AA"))
	require.NotEqual(t, a, AnonymizedUsername("01HZX0000000000000000000AB"))
	require.Len(t, a, len(AnonymizedUsernamePrefix)+16)
}
