package session

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrNotFound is returned by stores when no refresh row matches.
	ErrNotFound = errors.New("refresh token not found")

	// ErrNotClaimed is returned by Store.Rotate when the conditional claim
	// affected zero rows.
	ErrNotClaimed = errors.New("refresh token not claimed")

	// Rotation outcomes. RotationError unwraps to one of these.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	ErrRefreshExpired = errors.New("refresh token expired")
	ErrRefreshReused  = errors.New("refresh token reuse detected")
)

// RotationReason is the client-facing code of a failed rotation.
type RotationReason string

const (
	ReasonInvalid RotationReason = "invalid"
	ReasonExpired RotationReason = "expired"
	ReasonReused  RotationReason = "reused"
)

// RotationError reports why a presented refresh secret was declined.
// Rotation failures are final; the caller must log in again.
type RotationError struct {
	Reason RotationReason
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("refresh rotation failed: %s", e.Reason)
}

func (e *RotationError) Unwrap() error {
	switch e.Reason {
	case ReasonExpired:
		return ErrRefreshExpired
	case ReasonReused:
		return ErrRefreshReused
	default:
		return ErrRefreshInvalid
	}
}

// Code returns the client-facing code.
func (e *RotationError) Code() string { return string(e.Reason) }

func rotationFailed(reason RotationReason) error {
	return &RotationError{Reason: reason}
}
