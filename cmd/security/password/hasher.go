package password

import "strings"

// scheme is one supported hashing algorithm.
type scheme interface {
	algorithm() Algorithm
	// owns reports whether encoded carries this scheme's tag.
	owns(encoded string) bool
	hash(password string) (string, error)
	verify(encoded, password string) (bool, error)
	// stale reports whether encoded was produced with different parameters.
	stale(encoded string) bool
}

// Hasher hashes new passwords with the configured default algorithm and
// verifies against any supported algorithm.
type Hasher struct {
	cfg     Config
	primary scheme
	schemes []scheme
}

// New builds a Hasher. Every supported scheme is registered for verification
// regardless of which one is the default.
func New(cfg Config) (*Hasher, error) {
	argon := argon2idScheme{params: cfg.Params}
	bc := bcryptScheme{cost: cfg.BcryptCost}

	h := &Hasher{cfg: cfg, schemes: []scheme{argon, bc}}
	switch cfg.Default {
	case Argon2id, "":
		h.primary = argon
	case Bcrypt:
		h.primary = bc
	default:
		return nil, ErrUnknownAlgorithm
	}
	return h, nil
}

// Config returns the hasher's configuration.
func (h *Hasher) Config() Config { return h.cfg }

// Hash hashes password with the default algorithm.
// Input longer than the policy maximum is cut to MaxLength runes first, so the
// result is deterministic for a given input and never an error on length.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	return h.primary.hash(h.clamp(password))
}

// Verify reports whether password matches stored. It dispatches on the hash's
// algorithm tag and tries every registered scheme in order; malformed or
// unknown hashes simply do not match.
func (h *Hasher) Verify(password, stored string) bool {
	stored = strings.TrimSpace(stored)
	if stored == "" || password == "" {
		return false
	}
	password = h.clamp(password)
	for _, s := range h.schemes {
		if !s.owns(stored) {
			continue
		}
		if ok, err := s.verify(stored, password); err == nil && ok {
			return true
		}
	}
	return false
}

// Identify returns the algorithm that produced stored.
func (h *Hasher) Identify(stored string) (Algorithm, error) {
	for _, s := range h.schemes {
		if s.owns(stored) {
			return s.algorithm(), nil
		}
	}
	return "", ErrInvalidHash
}

// NeedsRehash reports whether stored should be replaced by a fresh Hash on the
// next successful login.
func (h *Hasher) NeedsRehash(stored string) bool {
	if !h.primary.owns(stored) {
		return true
	}
	return h.primary.stale(stored)
}

func (h *Hasher) clamp(password string) string {
	limit := h.cfg.Policy.MaxLength
	if limit <= 0 {
		return password
	}
	r := []rune(password)
	if len(r) <= limit {
		return password
	}
	return string(r[:limit])
}
