package login

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"
	"warden/cmd/security/password"
)

// dummyPassword is hashed once at construction; verifying against it keeps
// unknown-user lookups as slow as real ones.
const dummyPassword = "warden-timing-equalizer"

// Authenticator runs login and the password lifecycle against one identity
// store.
type Authenticator struct {
	users    identity.Store
	hasher   *password.Hasher
	sessions *session.Service
	resets   *reset.Service
	lockout  identity.LockoutPolicy
	log      *slog.Logger
	metrics  *metrics.Metrics

	dummyHash string
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLockoutPolicy overrides the default lockout policy.
func WithLockoutPolicy(p identity.LockoutPolicy) Option {
	return func(a *Authenticator) { a.lockout = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) {
		if l != nil {
			a.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// New constructs an Authenticator.
func New(users identity.Store, hasher *password.Hasher, sessions *session.Service, resets *reset.Service, opts ...Option) (*Authenticator, error) {
	if users == nil || hasher == nil || sessions == nil || resets == nil {
		return nil, ErrInvalidInput
	}
	a := &Authenticator{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		resets:   resets,
		lockout:  identity.DefaultLockoutPolicy(),
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	dummy, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}
	a.dummyHash = dummy
	return a, nil
}

// Login authenticates identifier (a username, or an email when it contains
// '@') with pw and issues an access/refresh pair.
//
// Errors: ErrInvalidInput, ErrInvalidCredentials, or an *identity.StatusError
// when the password matched but the account may not sign in.
func (a *Authenticator) Login(ctx context.Context, now time.Time, identifier, pw string, meta session.ClientMeta) (session.Issued, error) {
	issued, outcome, err := a.login(ctx, now, identifier, pw, meta)
	a.metrics.Login(outcome)
	return issued, err
}

func (a *Authenticator) login(ctx context.Context, now time.Time, identifier, pw string, meta session.ClientMeta) (session.Issued, string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || pw == "" {
		return session.Issued{}, "invalid_request", ErrInvalidInput
	}

	u, err := a.lookup(ctx, identifier)
	if identity.IsNotFound(err) {
		_ = a.hasher.Verify(pw, a.dummyHash)
		return session.Issued{}, "invalid_credentials", ErrInvalidCredentials
	}
	if err != nil {
		return session.Issued{}, "error", err
	}

	if !a.hasher.Verify(pw, u.PasswordHash) {
		fail, err := a.users.RecordLoginFailure(ctx, u.ID, now, a.lockout)
		if err != nil {
			return session.Issued{}, "error", err
		}
		if fail.Locked {
			a.metrics.Lockout()
			a.log.Warn("auth.login.locked", "user_id", u.ID, "failed_count", fail.Count, "locked_until", fail.LockedUntil)
		}
		return session.Issued{}, "invalid_credentials", ErrInvalidCredentials
	}

	if st := identity.CheckStatus(u, now); !st.OK() {
		a.log.Info("auth.login.denied", "user_id", u.ID, "status", string(st))
		return session.Issued{}, string(st), st.Err()
	}

	if err := a.users.RecordLoginSuccess(ctx, u.ID, now); err != nil {
		return session.Issued{}, "error", err
	}
	a.maybeRehash(ctx, now, u, pw)

	issued, err := a.sessions.Issue(ctx, now, u, meta)
	if err != nil {
		return session.Issued{}, "error", err
	}
	a.log.Info("auth.login.ok", "user_id", u.ID, "token_id", issued.TokenID)
	return issued, "ok", nil
}

func (a *Authenticator) lookup(ctx context.Context, identifier string) (identity.User, error) {
	if strings.Contains(identifier, "@") {
		return a.users.GetUserByEmail(ctx, identifier)
	}
	return a.users.GetUserByUsername(ctx, identifier)
}

// maybeRehash upgrades a stale hash after a successful login. Accounts that
// must reset their password are left alone: SetPassword would clear the flag.
func (a *Authenticator) maybeRehash(ctx context.Context, now time.Time, u identity.User, pw string) {
	if u.MustResetPassword || !a.hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	h, err := a.hasher.Hash(pw)
	if err != nil {
		a.log.Error("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	if err := a.users.SetPassword(ctx, u.ID, h, now); err != nil {
		a.log.Error("auth.login.rehash.fail", "user_id", u.ID, "err", err)
		return
	}
	from, _ := a.hasher.Identify(u.PasswordHash)
	a.log.Info("auth.login.rehashed", "user_id", u.ID, "from", string(from), "to", string(a.hasher.Config().Default))
}

// ChangePassword replaces the password of an authenticated user after
// re-verifying the current one. Every refresh token of the user is revoked.
func (a *Authenticator) ChangePassword(ctx context.Context, now time.Time, userID, current, next string) error {
	u, err := a.users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !a.hasher.Verify(current, u.PasswordHash) {
		return ErrInvalidCredentials
	}
	if err := identity.CheckStatus(u, now).Err(); err != nil {
		return err
	}
	if err := a.setPassword(ctx, now, u, next); err != nil {
		return err
	}
	if _, err := a.sessions.RevokeAll(ctx, now, u.ID, session.RevokePasswordChange); err != nil {
		return err
	}
	if _, err := a.resets.RevokeAll(ctx, now, u.ID); err != nil {
		return err
	}
	a.log.Info("auth.password.changed", "user_id", u.ID)
	return nil
}

func (a *Authenticator) setPassword(ctx context.Context, now time.Time, u identity.User, next string) error {
	if err := a.hasher.Config().ValidateFor(next, u.Username); err != nil {
		return err
	}
	h, err := a.hasher.Hash(next)
	if err != nil {
		return err
	}
	return a.users.SetPassword(ctx, u.ID, h, now)
}

// RequestPasswordReset issues a reset secret for identifier. Unknown,
// deleted and deactivated accounts yield ("", nil) so callers cannot probe
// which identifiers exist. Locked accounts may reset.
func (a *Authenticator) RequestPasswordReset(ctx context.Context, now time.Time, identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrInvalidInput
	}
	u, err := a.lookup(ctx, identifier)
	if identity.IsNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	switch identity.CheckStatus(u, now) {
	case identity.StatusOK, identity.StatusLocked:
	default:
		return "", nil
	}

	secret, _, err := a.resets.Issue(ctx, now, u.ID, reset.PurposeReset)
	if err != nil {
		return "", err
	}
	return secret, nil
}

// Invite issues a long-lived setup secret for an existing account, for admin
// onboarding.
func (a *Authenticator) Invite(ctx context.Context, now time.Time, userID string) (string, error) {
	if _, err := a.users.GetUserByID(ctx, userID); err != nil {
		return "", err
	}
	secret, _, err := a.resets.Issue(ctx, now, userID, reset.PurposeInvite)
	return secret, err
}

// CompletePasswordReset sets newPassword using a reset secret and returns the
// user id. Reset errors are reset.ErrInvalid, reset.ErrUsed or
// reset.ErrExpired; policy violations come from the password package.
func (a *Authenticator) CompletePasswordReset(ctx context.Context, now time.Time, secret, newPassword string) (string, error) {
	tok, err := a.resets.Validate(ctx, now, secret)
	if err != nil {
		return "", err
	}
	u, err := a.users.GetUserByID(ctx, tok.UserID)
	if identity.IsNotFound(err) {
		return "", reset.ErrInvalid
	}
	if err != nil {
		return "", err
	}
	if err := a.hasher.Config().ValidateFor(newPassword, u.Username); err != nil {
		return "", err
	}
	h, err := a.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}
	userID, err := a.resets.Consume(ctx, now, secret, h)
	if err != nil {
		return "", err
	}
	a.log.Info("auth.password.reset", "user_id", userID)
	return userID, nil
}

// DeleteAccount soft-deletes userID and kills its sessions and reset tokens.
// The row is anonymized later by the retention sweep.
func (a *Authenticator) DeleteAccount(ctx context.Context, now time.Time, userID string) error {
	if err := a.users.SoftDelete(ctx, userID, now); err != nil {
		return err
	}
	if _, err := a.sessions.RevokeAll(ctx, now, userID, session.RevokeAccountDeleted); err != nil {
		return err
	}
	if _, err := a.resets.RevokeAll(ctx, now, userID); err != nil {
		return err
	}
	a.log.Info("auth.account.deleted", "user_id", userID)
	return nil
}

// NewUser is the input to Provision.
type NewUser struct {
	Username          string
	Email             *string
	DisplayName       *string
	Password          string
	Role              identity.Role
	MustResetPassword bool
}

// Provision creates an active account with a policy-checked password.
// An empty Password with MustResetPassword set creates an invite-only account
// that cannot log in until an invite or reset token is consumed.
func (a *Authenticator) Provision(ctx context.Context, now time.Time, in NewUser) (identity.User, error) {
	h := identity.InvalidPasswordHash
	if in.Password != "" || !in.MustResetPassword {
		if err := a.hasher.Config().ValidateFor(in.Password, in.Username); err != nil {
			return identity.User{}, err
		}
		var err error
		if h, err = a.hasher.Hash(in.Password); err != nil {
			return identity.User{}, err
		}
	}
	u, err := a.users.CreateUser(ctx, identity.CreateUserInput{
		Username:          in.Username,
		Email:             in.Email,
		DisplayName:       in.DisplayName,
		PasswordHash:      h,
		Role:              in.Role,
		IsActive:          true,
		MustResetPassword: in.MustResetPassword,
		Now:               now,
	})
	if err != nil {
		return identity.User{}, err
	}
	a.log.Info("auth.account.provisioned", "user_id", u.ID, "role", string(u.Role))
	return u, nil
}

// IsPolicyError reports whether err is a password policy violation.
func IsPolicyError(err error) bool {
	return errors.Is(err, password.ErrPasswordTooShort) ||
		errors.Is(err, password.ErrPasswordTooLong) ||
		errors.Is(err, password.ErrWeakPassword) ||
		errors.Is(err, password.ErrEmptyPassword)
}
