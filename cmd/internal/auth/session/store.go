package session

import (
	"context"
	"net"
	"strings"
	"time"
)

// ClaimMarkerPrefix prefixes the transient replaced_by value written by the
// rotation claim. It is superseded by the successor id before commit.
const ClaimMarkerPrefix = "claim:"

// Revocation reasons recorded on refresh rows.
const (
	RevokeLogout         = "logout"
	RevokeLogoutAll      = "logout_all"
	RevokePasswordChange = "password_change"
	RevokePasswordReset  = "password_reset"
	RevokeAccountDeleted = "account_deleted"
	RevokeAnonymized     = "anonymized"
	RevokeReuseDetected  = "reuse_detected"
	RevokeAccountStatus  = "account_status"
)

// ClientMeta is the audit metadata stored with each refresh row.
type ClientMeta struct {
	UserAgent string
	IP        net.IP
}

// NewToken describes a refresh row to insert.
type NewToken struct {
	ID        string
	Hash      string
	ExpiresAt time.Time
	Meta      ClientMeta
}

// Row mirrors the refresh_tokens row.
type Row struct {
	ID               string
	UserID           string
	TokenHash        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastUsedAt       *time.Time
	RevokedAt        *time.Time
	RevocationReason *string
	ReplacedBy       *string
	UserAgent        *string
	IP               net.IP
}

// Usable reports whether the row may be presented for rotation at now.
func (r Row) Usable(now time.Time) bool {
	return r.RevokedAt == nil && r.ReplacedBy == nil && r.ExpiresAt.After(now)
}

// Claimed reports whether the row holds a transient claim marker.
func (r Row) Claimed() bool {
	return r.ReplacedBy != nil && strings.HasPrefix(*r.ReplacedBy, ClaimMarkerPrefix)
}

// Store abstracts refresh-token persistence.
//
// Rotate is the concurrency primitive: it must claim the presented row with a
// single conditional write (unrevoked, unreplaced, unexpired) and check the
// affected-row count. Insert of the successor and finalization of the old
// row's replaced_by happen in the same atomic unit, so a concurrent loser that
// observes the claim always also finds the successor to revoke.
type Store interface {
	// Create inserts an active refresh row for userID.
	Create(ctx context.Context, now time.Time, userID string, tok NewToken) (Row, error)

	// GetByHash loads a row by token hash. Returns ErrNotFound when missing.
	GetByHash(ctx context.Context, hash string) (Row, error)

	// Rotate claims the row matching hash and inserts successor for the same
	// principal. Returns ErrNotClaimed when the claim affected zero rows.
	Rotate(ctx context.Context, now time.Time, hash string, successor NewToken) (old Row, next Row, err error)

	// RevokeByHash revokes one active row. found is false when no unrevoked
	// row matched.
	RevokeByHash(ctx context.Context, now time.Time, hash, reason string) (found bool, err error)

	// RevokeAll revokes every unrevoked row of userID.
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error)
}
