package reset

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"warden/cmd/identity"
)

// PasswordSetter stores a new password hash for a user.
// identity.Store satisfies it.
type PasswordSetter interface {
	SetPassword(ctx context.Context, id, passwordHash string, now time.Time) error
}

// MemoryStore is a dev/test Store. Consume holds the mutex across the
// password write so two consumers of one token cannot both succeed.
type MemoryStore struct {
	mu     sync.Mutex
	users  PasswordSetter
	byID   map[string]*Token
	byHash map[string]string
}

// NewMemoryStore constructs an empty MemoryStore writing passwords to users.
func NewMemoryStore(users PasswordSetter) *MemoryStore {
	return &MemoryStore{
		users:  users,
		byID:   make(map[string]*Token),
		byHash: make(map[string]string),
	}
}

// Create revokes outstanding tokens of the user and inserts a new one.
func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.UserID) == "" || len(in.TokenHash) != 64 {
		return Token{}, ErrInvalidInput
	}
	if !in.ExpiresAt.After(in.CreatedAt) {
		return Token{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byHash[in.TokenHash]; dup {
		return Token{}, ErrInvalidInput
	}
	s.revokeOutstandingLocked(in.CreatedAt, in.UserID)

	tok := &Token{
		ID:        in.ID,
		UserID:    in.UserID,
		Purpose:   in.Purpose,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
	}
	s.byID[tok.ID] = tok
	s.byHash[in.TokenHash] = tok.ID
	return cloneToken(*tok), nil
}

// GetByTokenHash fetches a token by hash.
func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Token{}, ErrNotFound
	}
	return cloneToken(*s.byID[id]), nil
}

// Consume marks the token used and writes the password.
func (s *MemoryStore) Consume(ctx context.Context, now time.Time, tokenHash, newPasswordHash string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[tokenHash]
	if !ok {
		return Token{}, ErrNotFound
	}
	tok := s.byID[id]
	if !tok.Usable(now) {
		return cloneToken(*tok), ErrNotActive
	}
	if s.users != nil {
		if err := s.users.SetPassword(ctx, tok.UserID, newPasswordHash, now); err != nil {
			if identity.IsNotFound(err) {
				return Token{}, fmt.Errorf("reset: user %s: %w", tok.UserID, ErrNotFound)
			}
			return Token{}, err
		}
	}
	used := now
	tok.UsedAt = &used
	return cloneToken(*tok), nil
}

// RevokeOutstanding revokes unused tokens of userID.
func (s *MemoryStore) RevokeOutstanding(ctx context.Context, now time.Time, userID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.revokeOutstandingLocked(now, userID), nil
}

func (s *MemoryStore) revokeOutstandingLocked(now time.Time, userID string) int64 {
	var n int64
	for _, tok := range s.byID {
		if tok.UserID != userID || tok.UsedAt != nil || tok.RevokedAt != nil {
			continue
		}
		at := now
		tok.RevokedAt = &at
		n++
	}
	return n
}

func cloneToken(t Token) Token {
	out := t
	if t.UsedAt != nil {
		v := *t.UsedAt
		out.UsedAt = &v
	}
	if t.RevokedAt != nil {
		v := *t.RevokedAt
		out.RevokedAt = &v
	}
	return out
}
