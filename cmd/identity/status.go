package identity

import (
	"fmt"
	"time"
)

// Status is the outcome of CheckStatus. The string values are stable codes
// surfaced verbatim to clients.
type Status string

const (
	StatusOK          Status = "ok"
	StatusInactive    Status = "account_inactive"
	StatusDeleted     Status = "account_deleted"
	StatusNotYetValid Status = "account_not_yet_valid"
	StatusExpired     Status = "account_expired"
	StatusLocked      Status = "account_locked"
)

// CheckStatus evaluates u at now. The first matching state wins, in this
// order: inactive, deleted, not yet valid, expired, locked. It never mutates u.
func CheckStatus(u User, now time.Time) Status {
	switch {
	case !u.IsActive:
		return StatusInactive
	case u.DeletedAt != nil:
		return StatusDeleted
	case u.ValidFrom != nil && u.ValidFrom.After(now):
		return StatusNotYetValid
	case u.AccessExpiresAt != nil && !u.AccessExpiresAt.After(now):
		return StatusExpired
	case u.LockedUntil != nil && u.LockedUntil.After(now):
		return StatusLocked
	default:
		return StatusOK
	}
}

// OK reports whether s permits authentication.
func (s Status) OK() bool { return s == StatusOK }

// Err returns nil for StatusOK and a *StatusError otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError carries a non-ok Status. It matches ErrAccountNotActive.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity: %s", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrAccountNotActive }

// Code returns the client-facing code.
func (e *StatusError) Code() string { return string(e.Status) }
