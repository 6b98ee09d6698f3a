// Package token provides the opaque-secret primitives shared by refresh tokens
// and reset tokens.
//
// Secrets are random, URL-safe strings handed to the client exactly once.
// The server only ever stores HashHex(secret):
//   - HMAC-SHA256(secret, key) when WARDEN_TOKEN_HMAC_KEY is set,
//   - SHA-256(secret) otherwise (dev only; production enforces HMAC via
//     WARDEN_REQUIRE_TOKEN_HMAC).
//
// Output is always 64 hex chars, which keeps constant-time comparison simple.
package token
