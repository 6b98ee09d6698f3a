package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"
)

const (
	testPassword  = "correct horse battery"
	testJWTSecret = "login-test-secret-login-test-secret!!"
)

type fixture struct {
	auth     *Authenticator
	users    *identity.MemoryStore
	sessions *session.Service
	hasher   *password.Hasher
	user     identity.User
	now      time.Time
}

func testHasherConfig(alg password.Algorithm) password.Config {
	cfg := password.DefaultConfig()
	cfg.Default = alg
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.BcryptCost = 4
	return cfg
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	users := identity.NewMemoryStore()

	hasher, err := password.New(testHasherConfig(password.Argon2id))
	require.NoError(t, err)

	cfg := session.DefaultConfig()
	cfg.JWTSecret = testJWTSecret
	tokens, err := session.NewJWTManager(cfg)
	require.NoError(t, err)
	sessions := session.NewService(cfg, session.NewMemoryStore(), tokens, users, nil, nil)

	resets, err := reset.NewService(reset.NewMemoryStore(users), sessions)
	require.NoError(t, err)

	auth, err := New(users, hasher, sessions, resets)
	require.NoError(t, err)

	email := "navid@example.com"
	u, err := auth.Provision(context.Background(), now, NewUser{
		Username: "navid",
		Email:    &email,
		Password: testPassword,
	})
	require.NoError(t, err)

	return fixture{auth: auth, users: users, sessions: sessions, hasher: hasher, user: u, now: now}
}

var testMeta = session.ClientMeta{UserAgent: "go-test", IP: net.ParseIP("198.51.100.4")}

func statusOf(t *testing.T, err error) identity.Status {
	t.Helper()
	var se *identity.StatusError
	require.True(t, errors.As(err, &se), "expected StatusError, got %v", err)
	return se.Status
}

func TestLogin_ByUsernameAndEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"navid", "NAVID", "Navid@Example.com"} {
		issued, err := f.auth.Login(ctx, f.now, id, testPassword, testMeta)
		require.NoError(t, err, id)
		require.Equal(t, f.user.ID, issued.UserID)
		require.NotEmpty(t, issued.RefreshToken)

		claims, err := f.sessions.VerifyAccessToken(issued.AccessToken, f.now)
		require.NoError(t, err)
		require.Equal(t, f.user.ID, claims.Subject)
	}

	u, err := f.users.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	require.NotNil(t, u.LastLoginAt)
}

func TestLogin_UnknownAndWrongAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.auth.Login(ctx, f.now, "nobody", testPassword, testMeta)
	_, errWrong := f.auth.Login(ctx, f.now, "navid", "wrong password!", testMeta)
	require.ErrorIs(t, errUnknown, ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, ErrInvalidCredentials)
	require.Equal(t, errUnknown.Error(), errWrong.Error())

	_, err := f.auth.Login(ctx, f.now, "  ", testPassword, testMeta)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogin_LockedAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.auth.Login(ctx, f.now, "navid", "wrong password!", testMeta)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := f.auth.Login(ctx, f.now.Add(time.Second), "navid", testPassword, testMeta)
	require.Equal(t, identity.StatusLocked, statusOf(t, err))

	later := f.now.Add(11 * time.Minute)
	_, err = f.auth.Login(ctx, later, "navid", testPassword, testMeta)
	require.NoError(t, err)

	u, err := f.users.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	require.Zero(t, u.LoginFailedCount)
	require.Nil(t, u.LockedUntil)
}

func TestLogin_StatusCheckedAfterPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inactive := false
	_, err := f.users.UpdateAccess(ctx, f.user.ID, identity.AccessUpdate{IsActive: &inactive}, f.now)
	require.NoError(t, err)

	_, err = f.auth.Login(ctx, f.now, "navid", "wrong password!", testMeta)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.Equal(t, identity.StatusInactive, statusOf(t, err))
	require.True(t, identity.IsAccountNotActive(err))
}

func TestLogin_RehashesStaleHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bc, err := password.New(testHasherConfig(password.Bcrypt))
	require.NoError(t, err)
	legacy, err := bc.Hash(testPassword)
	require.NoError(t, err)
	require.NoError(t, f.users.SetPassword(ctx, f.user.ID, legacy, f.now))

	var buf bytes.Buffer
	f.auth.log = slog.New(slog.NewJSONHandler(&buf, nil))

	_, err = f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.NoError(t, err)

	u, err := f.users.GetUserByID(ctx, f.user.ID)
	require.NoError(t, err)
	alg, err := f.hasher.Identify(u.PasswordHash)
	require.NoError(t, err)
	require.Equal(t, password.Argon2id, alg)

	var rehashed map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		if rec["msg"] == "auth.login.rehashed" {
			rehashed = rec
		}
	}
	require.NotNil(t, rehashed)
	require.Equal(t, string(password.Bcrypt), rehashed["from"])
	require.Equal(t, string(password.Argon2id), rehashed["to"])
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.NoError(t, err)

	err = f.auth.ChangePassword(ctx, f.now, f.user.ID, "not the password", "brand new secret 42")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	err = f.auth.ChangePassword(ctx, f.now, f.user.ID, testPassword, "password123")
	require.ErrorIs(t, err, password.ErrWeakPassword)
	require.True(t, IsPolicyError(err))

	require.NoError(t, f.auth.ChangePassword(ctx, f.now, f.user.ID, testPassword, "brand new secret 42"))

	_, err = f.sessions.Rotate(ctx, f.now.Add(time.Minute), issued.RefreshToken, testMeta)
	require.ErrorIs(t, err, session.ErrRefreshExpired)

	_, err = f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, f.now, "navid", "brand new secret 42", testMeta)
	require.NoError(t, err)
}

func TestPasswordReset_Flow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	secret, err := f.auth.RequestPasswordReset(ctx, f.now, "nobody@example.com")
	require.NoError(t, err)
	require.Empty(t, secret)

	issued, err := f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.NoError(t, err)

	secret, err = f.auth.RequestPasswordReset(ctx, f.now, "navid@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	_, err = f.auth.CompletePasswordReset(ctx, f.now, secret, "short")
	require.ErrorIs(t, err, password.ErrPasswordTooShort)

	userID, err := f.auth.CompletePasswordReset(ctx, f.now.Add(time.Minute), secret, "after the reset 99")
	require.NoError(t, err)
	require.Equal(t, f.user.ID, userID)

	_, err = f.auth.CompletePasswordReset(ctx, f.now.Add(2*time.Minute), secret, "after the reset 100")
	require.ErrorIs(t, err, reset.ErrUsed)

	_, err = f.sessions.Rotate(ctx, f.now.Add(3*time.Minute), issued.RefreshToken, testMeta)
	require.Error(t, err)

	_, err = f.auth.Login(ctx, f.now.Add(3*time.Minute), "navid", "after the reset 99", testMeta)
	require.NoError(t, err)
}

func TestPasswordReset_UnlocksAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = f.auth.Login(ctx, f.now, "navid", "wrong password!", testMeta)
	}
	secret, err := f.auth.RequestPasswordReset(ctx, f.now, "navid")
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	_, err = f.auth.CompletePasswordReset(ctx, f.now, secret, "fresh start 2026")
	require.NoError(t, err)

	_, err = f.auth.Login(ctx, f.now, "navid", "fresh start 2026", testMeta)
	require.NoError(t, err)
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.NoError(t, err)

	require.NoError(t, f.auth.DeleteAccount(ctx, f.now, f.user.ID))

	_, err = f.auth.Login(ctx, f.now, "navid", testPassword, testMeta)
	require.Equal(t, identity.StatusDeleted, statusOf(t, err))

	_, err = f.sessions.Rotate(ctx, f.now, issued.RefreshToken, testMeta)
	require.ErrorIs(t, err, session.ErrRefreshExpired)

	secret, err := f.auth.RequestPasswordReset(ctx, f.now, "navid")
	require.NoError(t, err)
	require.Empty(t, secret)
}

func TestInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Invite(ctx, f.now, "missing")
	require.True(t, identity.IsNotFound(err))

	secret, err := f.auth.Invite(ctx, f.now, f.user.ID)
	require.NoError(t, err)

	_, err = f.auth.CompletePasswordReset(ctx, f.now.Add(72*time.Hour), secret, "invited and set 7")
	require.NoError(t, err)
}

func TestProvision_InviteOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.auth.Provision(ctx, f.now, NewUser{Username: "nopass"})
	require.ErrorIs(t, err, password.ErrEmptyPassword)

	u, err := f.auth.Provision(ctx, f.now, NewUser{Username: "invitee", MustResetPassword: true})
	require.NoError(t, err)
	require.Equal(t, identity.InvalidPasswordHash, u.PasswordHash)

	_, err = f.auth.Login(ctx, f.now, "invitee", "guessing blindly 1", testMeta)
	require.ErrorIs(t, err, ErrInvalidCredentials)

	secret, err := f.auth.Invite(ctx, f.now, u.ID)
	require.NoError(t, err)
	_, err = f.auth.CompletePasswordReset(ctx, f.now.Add(time.Hour), secret, "invited and set 7")
	require.NoError(t, err)

	issued, err := f.auth.Login(ctx, f.now.Add(2*time.Hour), "invitee", "invited and set 7", testMeta)
	require.NoError(t, err)
	require.False(t, issued.User.MustResetPassword)
}
