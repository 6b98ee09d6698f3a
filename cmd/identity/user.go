package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse authorization level embedded in access tokens.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleUser   Role = "user"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleEditor, RoleUser:
		return r, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
}

// User is warden's security principal. Rows are never physically deleted.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Email        *string
	EmailNorm    *string
	DisplayName  *string

	// PasswordHash is self-describing (see security/password).
	PasswordHash string
	Role         Role

	IsActive          bool
	MustResetPassword bool

	LoginFailedCount int
	LockedUntil      *time.Time

	ValidFrom       *time.Time
	AccessExpiresAt *time.Time

	LastLoginAt *time.Time

	DeletedAt           *time.Time
	DeletionRequestedAt *time.Time
	AnonymizedAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAnonymized reports whether the row has been scrubbed.
func (u User) IsAnonymized() bool { return u.AnonymizedAt != nil }

// CreateUserInput describes a new account. PasswordHash must already be hashed;
// the store never sees plaintext.
type CreateUserInput struct {
	Username          string
	Email             *string
	DisplayName       *string
	PasswordHash      string
	Role              Role
	IsActive          bool
	MustResetPassword bool
	ValidFrom         *time.Time
	AccessExpiresAt   *time.Time
	Now               time.Time
}

func (in CreateUserInput) validate(op string) error {
	if NormalizeUsername(in.Username) == "" {
		return invalid(op, "username is required")
	}
	if strings.HasPrefix(NormalizeUsername(in.Username), AnonymizedUsernamePrefix) {
		return invalid(op, "username uses a reserved prefix")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return invalid(op, "password hash is required")
	}
	if in.Email != nil && !strings.Contains(*in.Email, "@") {
		return invalid(op, "email is malformed")
	}
	if in.Role != "" {
		if _, err := ParseRole(string(in.Role)); err != nil {
			return invalid(op, "unknown role")
		}
	}
	return nil
}

// AccessUpdate is an admin edit of authorization fields. Nil fields are left
// unchanged; ClearValidFrom / ClearAccessExpiresAt null the window bounds.
type AccessUpdate struct {
	Role              *Role
	IsActive          *bool
	MustResetPassword *bool

	ValidFrom            *time.Time
	ClearValidFrom       bool
	AccessExpiresAt      *time.Time
	ClearAccessExpiresAt bool
}

func (u *User) applyAccess(in AccessUpdate) {
	if in.Role != nil {
		u.Role = *in.Role
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	if in.MustResetPassword != nil {
		u.MustResetPassword = *in.MustResetPassword
	}
	switch {
	case in.ClearValidFrom:
		u.ValidFrom = nil
	case in.ValidFrom != nil:
		t := in.ValidFrom.UTC()
		u.ValidFrom = &t
	}
	switch {
	case in.ClearAccessExpiresAt:
		u.AccessExpiresAt = nil
	case in.AccessExpiresAt != nil:
		t := in.AccessExpiresAt.UTC()
		u.AccessExpiresAt = &t
	}
}

// LoginFailure is the post-update state returned by RecordLoginFailure.
type LoginFailure struct {
	Count       int
	LockedUntil *time.Time
	// Locked is true when this failure crossed the threshold.
	Locked bool
}

func nowOr(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
