// Package reset issues and consumes single-use password-setup tokens.
//
// The same table carries admin invites and self-service resets; they differ
// only in lifetime. A secret is returned exactly once at issue time and only
// its hash is persisted. Consuming a token writes the new password hash in
// the same transaction that marks the token used.
package reset
