// Package session issues access tokens and runs the refresh-token rotation
// engine.
//
// Access tokens are short-lived and verified statelessly (JWT HS256 by
// default, PASETO v4.public optionally). Refresh tokens are opaque random
// strings; only token.HashHex(secret) is stored.
//
// Rotation is claim-then-finalize: one conditional UPDATE claims the presented
// row by writing a transient marker into replaced_by, and only the caller whose
// UPDATE affected a row may mint a successor. A zero-row claim is classified by
// re-reading the row; a row that was already replaced means the secret was
// reused, and every refresh token of that principal is revoked.
package session
