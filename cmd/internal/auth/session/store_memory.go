package session

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a dev/test Store. The mutex stands in for the database's
// atomic conditional UPDATE: every operation is one critical section.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Row
	byHash map[string]string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Row),
		byHash: make(map[string]string),
	}
}

// Create inserts an active row.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID string, tok NewToken) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertLocked(now, userID, tok)
}

func (s *MemoryStore) insertLocked(now time.Time, userID string, tok NewToken) (Row, error) {
	if strings.TrimSpace(userID) == "" || tok.ID == "" || len(tok.Hash) != 64 {
		return Row{}, ErrInvalidToken
	}
	if _, dup := s.byHash[tok.Hash]; dup {
		return Row{}, ErrInvalidToken
	}
	row := &Row{
		ID:        tok.ID,
		UserID:    userID,
		TokenHash: tok.Hash,
		CreatedAt: now,
		ExpiresAt: tok.ExpiresAt,
		UserAgent: nullIfEmpty(tok.Meta.UserAgent),
		IP:        copyIP(tok.Meta.IP),
	}
	s.byID[row.ID] = row
	s.byHash[row.TokenHash] = row.ID
	return cloneRow(*row), nil
}

// GetByHash loads a row by hash.
func (s *MemoryStore) GetByHash(ctx context.Context, hash string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Row{}, ErrNotFound
	}
	return cloneRow(*s.byID[id]), nil
}

// Rotate claims, inserts the successor and finalizes in one critical section.
func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, hash string, successor NewToken) (Row, Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, Row{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return Row{}, Row{}, ErrNotClaimed
	}
	old := s.byID[id]
	if !old.Usable(now) {
		return Row{}, Row{}, ErrNotClaimed
	}

	marker := ClaimMarkerPrefix + uuid.NewString()
	old.ReplacedBy = &marker

	next, err := s.insertLocked(now, old.UserID, successor)
	if err != nil {
		// Roll the claim back.
		old.ReplacedBy = nil
		return Row{}, Row{}, err
	}

	nextID := next.ID
	t := now
	old.ReplacedBy = &nextID
	old.LastUsedAt = &t

	return cloneRow(*old), next, nil
}

// RevokeByHash revokes one unrevoked row.
func (s *MemoryStore) RevokeByHash(ctx context.Context, now time.Time, hash, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[hash]
	if !ok {
		return false, nil
	}
	row := s.byID[id]
	if row.RevokedAt != nil {
		return false, nil
	}
	revoke(row, now, reason)
	return true, nil
}

// RevokeAll revokes every unrevoked row of userID.
func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.byID {
		if row.UserID == userID && row.RevokedAt == nil {
			revoke(row, now, reason)
			n++
		}
	}
	return n, nil
}

// ListByUser returns every row of userID. It exists for tests and tooling.
func (s *MemoryStore) ListByUser(userID string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Row
	for _, row := range s.byID {
		if row.UserID == userID {
			out = append(out, cloneRow(*row))
		}
	}
	return out
}

func revoke(row *Row, now time.Time, reason string) {
	t := now
	r := reason
	row.RevokedAt = &t
	row.RevocationReason = &r
}

func cloneRow(r Row) Row {
	out := r
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		out.LastUsedAt = &t
	}
	if r.RevokedAt != nil {
		t := *r.RevokedAt
		out.RevokedAt = &t
	}
	if r.RevocationReason != nil {
		v := *r.RevocationReason
		out.RevocationReason = &v
	}
	if r.ReplacedBy != nil {
		v := *r.ReplacedBy
		out.ReplacedBy = &v
	}
	if r.UserAgent != nil {
		v := *r.UserAgent
		out.UserAgent = &v
	}
	out.IP = copyIP(r.IP)
	return out
}

func copyIP(ip net.IP) net.IP {
	if ip == nil {
		return nil
	}
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
