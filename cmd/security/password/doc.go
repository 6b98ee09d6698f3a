// Package password provides password hashing and verification for warden.
//
// Stored hashes are self-describing strings, so verification never needs
// out-of-band knowledge of which algorithm produced them:
//   - argon2id (primary): $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<key_b64>
//   - bcrypt (fallback):  $2a$ / $2b$ / $2y$ modular crypt strings
//
// Hasher.Verify dispatches on the algorithm tag and walks every registered
// scheme in order, so switching the default algorithm never invalidates hashes
// issued earlier.
//
// Security notes:
//   - Hash strings are untrusted input during Verify; argon2 parameters and
//     bcrypt costs far above configured values are refused (anti-DoS).
//   - bcrypt only reads 72 bytes; input is truncated deterministically before
//     both hashing and verifying.
//   - Plaintext is never logged or persisted by this package.
package password
