package reset

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/metrics"
	"warden/cmd/security/token"
)

// Default lifetimes.
const (
	DefaultResetTTL  = 24 * time.Hour
	DefaultInviteTTL = 7 * 24 * time.Hour
)

const revokeReason = "password_reset"

// SessionRevoker kills refresh tokens after a successful reset.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error)
}

// Service issues and consumes single-use password-setup tokens.
type Service struct {
	store      Store
	sessions   SessionRevoker
	tokenBytes int
	resetTTL   time.Duration
	inviteTTL  time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated secrets in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithTTL sets the lifetime for a purpose.
func WithTTL(p Purpose, ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return ErrInvalidInput
		}
		switch p {
		case PurposeReset:
			s.resetTTL = ttl
		case PurposeInvite:
			s.inviteTTL = ttl
		default:
			return ErrInvalidInput
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) error {
		s.metrics = m
		return nil
	}
}

// NewService constructs a Service with safe defaults. sessions may be nil.
func NewService(store Store, sessions SessionRevoker, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		store:      store,
		sessions:   sessions,
		tokenBytes: token.DefaultSecretBytes,
		resetTTL:   DefaultResetTTL,
		inviteTTL:  DefaultInviteTTL,
		log:        slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Issue creates a token for userID and returns its secret exactly once.
// Earlier unused tokens of the same user are revoked.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, purpose Purpose) (string, Token, error) {
	if err := ctx.Err(); err != nil {
		return "", Token{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", Token{}, ErrInvalidInput
	}

	ttl := s.resetTTL
	switch purpose {
	case PurposeReset, "":
		purpose = PurposeReset
	case PurposeInvite:
		ttl = s.inviteTTL
	default:
		return "", Token{}, ErrInvalidInput
	}

	secret, err := token.NewOpaque(s.tokenBytes)
	if err != nil {
		return "", Token{}, err
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return "", Token{}, err
	}

	tok, err := s.store.Create(ctx, CreateRecord{
		ID:        id,
		UserID:    userID,
		TokenHash: token.HashHex(secret),
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return "", Token{}, err
	}
	s.log.Info("auth.reset.issued", "user_id", userID, "token_id", tok.ID, "purpose", string(purpose))
	return secret, tok, nil
}

// Validate reports the token behind secret without consuming it.
func (s *Service) Validate(ctx context.Context, now time.Time, secret string) (Token, error) {
	secret, ok := token.Normalize(secret)
	if !ok {
		return Token{}, ErrInvalid
	}
	tok, err := s.store.GetByTokenHash(ctx, token.HashHex(secret))
	if errors.Is(err, ErrNotFound) {
		return Token{}, ErrInvalid
	}
	if err != nil {
		return Token{}, err
	}
	if !tok.Usable(now) {
		return tok, classify(tok, now)
	}
	return tok, nil
}

// Consume uses the token behind secret to set newPasswordHash. It succeeds at
// most once per secret. On success every refresh token of the owner is revoked.
func (s *Service) Consume(ctx context.Context, now time.Time, secret, newPasswordHash string) (string, error) {
	userID, err := s.consume(ctx, now, secret, newPasswordHash)
	s.metrics.ResetConsume(Outcome(err))
	return userID, err
}

func (s *Service) consume(ctx context.Context, now time.Time, secret, newPasswordHash string) (string, error) {
	if strings.TrimSpace(newPasswordHash) == "" {
		return "", ErrInvalidInput
	}
	secret, ok := token.Normalize(secret)
	if !ok {
		return "", ErrInvalid
	}

	tok, err := s.store.Consume(ctx, now, token.HashHex(secret), newPasswordHash)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		return "", ErrInvalid
	case errors.Is(err, ErrNotActive):
		return "", classify(tok, now)
	default:
		return "", err
	}

	if s.sessions != nil {
		if _, err := s.sessions.RevokeAll(ctx, now, tok.UserID, revokeReason); err != nil {
			return "", err
		}
	}
	s.log.Info("auth.reset.consumed", "user_id", tok.UserID, "token_id", tok.ID)
	return tok.UserID, nil
}

// RevokeAll revokes every outstanding token of userID.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error) {
	return s.store.RevokeOutstanding(ctx, now, userID)
}

// classify maps a row the store declined to its outcome. Revoked tokens report
// expired: they were superseded, never used.
func classify(tok Token, now time.Time) error {
	switch {
	case tok.UsedAt != nil:
		return ErrUsed
	case tok.RevokedAt != nil, !tok.ExpiresAt.After(now):
		return ErrExpired
	default:
		// The store declined a row that still looks usable; never report success.
		return ErrInvalid
	}
}
