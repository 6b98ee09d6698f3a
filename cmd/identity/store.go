package identity

import (
	"context"
	"time"
)

// Store is the principal persistence boundary.
//
// Every mutation is a single conditional write: callers never read-modify-write
// a user row, so concurrent processes cannot lose updates.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	// SetPassword stores a new hash, clears must_reset_password and resets the
	// lockout counter. Anonymized rows are rejected.
	SetPassword(ctx context.Context, id, passwordHash string, now time.Time) error

	// UpdateAccess applies an admin edit and returns the updated row.
	UpdateAccess(ctx context.Context, id string, in AccessUpdate, now time.Time) (User, error)

	// SoftDelete stamps deleted_at (first call wins) and deletion_requested_at.
	SoftDelete(ctx context.Context, id string, now time.Time) error

	// RecordLoginFailure increments login_failed_count and, once it reaches
	// policy.Threshold, sets locked_until = now + policy.Duration. One atomic
	// UPDATE.
	RecordLoginFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (LoginFailure, error)

	// RecordLoginSuccess resets the counter, clears locked_until and stamps
	// last_login_at.
	RecordLoginSuccess(ctx context.Context, id string, now time.Time) error

	// ListAnonymizable returns ids soft-deleted before cutoff and not yet
	// anonymized, oldest first.
	ListAnonymizable(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// Anonymize scrubs PII from a soft-deleted row. It reports false when the
	// row was already anonymized or is not soft-deleted.
	Anonymize(ctx context.Context, id string, now time.Time) (bool, error)
}
