package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a dev/test Store. Each method holds the mutex for its whole
// conditional write, matching the single-statement semantics of PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User)}
}

// CreateUser inserts a new principal.
func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if err := in.validate(op); err != nil {
		return User{}, err
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return User{}, err
	}

	u := newUserFromInput(id, in, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if existing.IsAnonymized() {
			continue
		}
		if existing.UsernameNorm == u.UsernameNorm {
			return User{}, ConflictError{Op: op, Field: "username"}
		}
		if u.EmailNorm != nil && existing.EmailNorm != nil && *existing.EmailNorm == *u.EmailNorm {
			return User{}, ConflictError{Op: op, Field: "email"}
		}
	}

	s.users[id] = &u
	return cloneUser(u), nil
}

// GetUserByID loads a principal by id.
func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, userNotFound("identity.GetUserByID")
	}
	return cloneUser(*u), nil
}

// GetUserByUsername loads a non-anonymized principal by normalized username.
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	norm := NormalizeUsername(username)
	return s.findOne(ctx, "identity.GetUserByUsername", func(u *User) bool {
		return norm != "" && u.UsernameNorm == norm
	})
}

// GetUserByEmail loads a non-anonymized principal by normalized email.
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	norm := NormalizeEmail(email)
	return s.findOne(ctx, "identity.GetUserByEmail", func(u *User) bool {
		return norm != "" && u.EmailNorm != nil && *u.EmailNorm == norm
	})
}

func (s *MemoryStore) findOne(ctx context.Context, op string, match func(*User) bool) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.IsAnonymized() {
			continue
		}
		if match(u) {
			return cloneUser(*u), nil
		}
	}
	return User{}, userNotFound(op)
}

// SetPassword replaces the password hash.
func (s *MemoryStore) SetPassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.SetPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "password hash is required")
	}
	return s.mutate(ctx, op, id, func(u *User) bool {
		if u.IsAnonymized() {
			return false
		}
		u.PasswordHash = passwordHash
		u.MustResetPassword = false
		u.LoginFailedCount = 0
		u.LockedUntil = nil
		u.UpdatedAt = nowOr(now)
		return true
	})
}

// UpdateAccess applies an admin edit.
func (s *MemoryStore) UpdateAccess(ctx context.Context, id string, in AccessUpdate, now time.Time) (User, error) {
	const op = "identity.UpdateAccess"

	if in.Role != nil {
		if _, err := ParseRole(string(*in.Role)); err != nil {
			return User{}, invalid(op, "unknown role")
		}
	}

	var out User
	err := s.mutate(ctx, op, id, func(u *User) bool {
		if u.IsAnonymized() {
			return false
		}
		u.applyAccess(in)
		u.UpdatedAt = nowOr(now)
		out = cloneUser(*u)
		return true
	})
	return out, err
}

// SoftDelete marks the row deleted.
func (s *MemoryStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return s.mutate(ctx, "identity.SoftDelete", id, func(u *User) bool {
		if u.IsAnonymized() {
			return false
		}
		t := nowOr(now)
		if u.DeletedAt == nil {
			u.DeletedAt = &t
		}
		u.DeletionRequestedAt = &t
		u.UpdatedAt = t
		return true
	})
}

// RecordLoginFailure increments the failure counter and locks at threshold.
func (s *MemoryStore) RecordLoginFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (LoginFailure, error) {
	policy = policy.normalized()
	now = nowOr(now)

	var out LoginFailure
	err := s.mutate(ctx, "identity.RecordLoginFailure", id, func(u *User) bool {
		u.LoginFailedCount++
		if u.LoginFailedCount >= policy.Threshold {
			until := now.Add(policy.Duration)
			u.LockedUntil = &until
			out.Locked = true
		}
		u.UpdatedAt = now
		out.Count = u.LoginFailedCount
		out.LockedUntil = copyTime(u.LockedUntil)
		return true
	})
	return out, err
}

// RecordLoginSuccess resets the lockout state.
func (s *MemoryStore) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.mutate(ctx, "identity.RecordLoginSuccess", id, func(u *User) bool {
		t := nowOr(now)
		u.LoginFailedCount = 0
		u.LockedUntil = nil
		u.LastLoginAt = &t
		u.UpdatedAt = t
		return true
	})
}

// ListAnonymizable returns soft-deleted, non-anonymized ids older than cutoff.
func (s *MemoryStore) ListAnonymizable(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*User
	for _, u := range s.users {
		if u.DeletedAt != nil && u.DeletedAt.Before(cutoff) && !u.IsAnonymized() {
			candidates = append(candidates, u)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DeletedAt.Equal(*candidates[j].DeletedAt) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].DeletedAt.Before(*candidates[j].DeletedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]string, 0, len(candidates))
	for _, u := range candidates {
		out = append(out, u.ID)
	}
	return out, nil
}

// Anonymize scrubs a soft-deleted row once.
func (s *MemoryStore) Anonymize(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return false, userNotFound("identity.Anonymize")
	}
	if u.DeletedAt == nil || u.IsAnonymized() {
		return false, nil
	}

	t := nowOr(now)
	placeholder := AnonymizedUsername(u.ID)
	u.Username = placeholder
	u.UsernameNorm = placeholder
	u.Email = nil
	u.EmailNorm = nil
	u.DisplayName = nil
	u.PasswordHash = InvalidPasswordHash
	u.LastLoginAt = nil
	u.LoginFailedCount = 0
	u.LockedUntil = nil
	u.IsActive = false
	u.AnonymizedAt = &t
	u.UpdatedAt = t
	return true, nil
}

// mutate runs fn on the row under the lock. fn returns false when its guard
// rejects the row, which surfaces as not found (same as a zero-row UPDATE).
func (s *MemoryStore) mutate(ctx context.Context, op, id string, fn func(*User) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || !fn(u) {
		return userNotFound(op)
	}
	return nil
}

func newUserFromInput(id string, in CreateUserInput, now time.Time) User {
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	u := User{
		ID:                id,
		Username:          strings.TrimSpace(in.Username),
		UsernameNorm:      NormalizeUsername(in.Username),
		DisplayName:       trimPtr(in.DisplayName),
		PasswordHash:      in.PasswordHash,
		Role:              role,
		IsActive:          in.IsActive,
		MustResetPassword: in.MustResetPassword,
		ValidFrom:         utcPtr(in.ValidFrom),
		AccessExpiresAt:   utcPtr(in.AccessExpiresAt),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if email := trimPtr(in.Email); email != nil {
		norm := NormalizeEmail(*email)
		u.Email = email
		u.EmailNorm = &norm
	}
	return u
}

func cloneUser(u User) User {
	out := u
	out.Email = copyString(u.Email)
	out.EmailNorm = copyString(u.EmailNorm)
	out.DisplayName = copyString(u.DisplayName)
	out.LockedUntil = copyTime(u.LockedUntil)
	out.ValidFrom = copyTime(u.ValidFrom)
	out.AccessExpiresAt = copyTime(u.AccessExpiresAt)
	out.LastLoginAt = copyTime(u.LastLoginAt)
	out.DeletedAt = copyTime(u.DeletedAt)
	out.DeletionRequestedAt = copyTime(u.DeletionRequestedAt)
	out.AnonymizedAt = copyTime(u.AnonymizedAt)
	return out
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := *p
	return &t
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	s := *p
	return &s
}

// trimPtr trims a string pointer, returning nil if result is empty.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	t := p.UTC()
	return &t
}
