package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptMaxBytes is bcrypt's hard input limit.
const bcryptMaxBytes = 72

type bcryptScheme struct {
	cost int
}

func (bcryptScheme) algorithm() Algorithm { return Bcrypt }

func (bcryptScheme) owns(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func (s bcryptScheme) hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword(truncateBcrypt(password), s.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s bcryptScheme) verify(encoded, password string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return false, ErrInvalidHash
	}
	if cost > maxInt(s.cost+4, 14) {
		return false, ErrInvalidHash
	}

	err = bcrypt.CompareHashAndPassword([]byte(encoded), truncateBcrypt(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func (s bcryptScheme) stale(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	return err != nil || cost != s.cost
}

// truncateBcrypt cuts input to bcrypt's 72-byte limit. The cut is on bytes,
// the same bytes bcrypt would read, so hashing and verifying always agree.
func truncateBcrypt(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptMaxBytes {
		b = b[:bcryptMaxBytes]
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
