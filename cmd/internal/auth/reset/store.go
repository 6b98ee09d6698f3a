package reset

import (
	"context"
	"time"
)

// Purpose distinguishes admin invites from self-service resets.
type Purpose string

const (
	PurposeInvite Purpose = "invite"
	PurposeReset  Purpose = "reset"
)

// Token is a reset_tokens row. The secret itself is never stored.
type Token struct {
	ID        string
	UserID    string
	Purpose   Purpose
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	RevokedAt *time.Time
}

// Usable reports whether the token can still be consumed at now.
func (t Token) Usable(now time.Time) bool {
	return t.UsedAt == nil && t.RevokedAt == nil && t.ExpiresAt.After(now)
}

// CreateRecord is a normalized insert payload.
type CreateRecord struct {
	ID        string
	UserID    string
	TokenHash string
	Purpose   Purpose
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the persistence boundary for reset tokens.
type Store interface {
	// Create revokes the user's outstanding tokens and inserts a new one, atomically.
	Create(ctx context.Context, in CreateRecord) (Token, error)

	GetByTokenHash(ctx context.Context, tokenHash string) (Token, error)

	// Consume flips used_at with one conditional write (unused, unrevoked,
	// unexpired) and stores newPasswordHash for the owner in the same
	// transaction. On a zero-row write it returns ErrNotFound, or ErrNotActive
	// together with the current row.
	Consume(ctx context.Context, now time.Time, tokenHash, newPasswordHash string) (Token, error)

	// RevokeOutstanding revokes every unused, unrevoked token of userID.
	RevokeOutstanding(ctx context.Context, now time.Time, userID string) (int64, error)
}
