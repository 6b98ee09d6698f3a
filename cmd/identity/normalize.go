package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeUsername performs case-insensitive canonicalization.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AnonymizedUsernamePrefix marks usernames written by Anonymize.
const AnonymizedUsernamePrefix = "deleted-"

// AnonymizedUsername is the non-reversible placeholder that replaces a
// username during anonymization. It is derived from the row id only, so it is
// stable across reruns and unique per row.
func AnonymizedUsername(id string) string {
	sum := sha256.Sum256([]byte(id))
	return AnonymizedUsernamePrefix + hex.EncodeToString(sum[:])[:16]
}

// InvalidPasswordHash is stored for anonymized and invite-only accounts. No
// hasher produces it, so no password ever verifies against it.
const InvalidPasswordHash = "!"
