package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/metrics"
	"warden/cmd/security/token"
)

// PrincipalLoader loads the principal behind a refresh row.
type PrincipalLoader interface {
	GetUserByID(ctx context.Context, id string) (identity.User, error)
}

// Service issues access tokens and issues, rotates and revokes refresh tokens.
type Service struct {
	cfg     Config
	tokens  AccessTokenManager
	store   Store
	users   PrincipalLoader
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Issued is the result of issuing or rotating: a short-lived access token and
// an opaque refresh secret that is returned exactly once.
type Issued struct {
	TokenID      string
	UserID       string
	AccessToken  string
	AccessExp    time.Time
	RefreshToken string
	RefreshExp   time.Time
	User         identity.User
}

// NewService constructs a Service. log and m may be nil.
func NewService(cfg Config, store Store, tokens AccessTokenManager, users PrincipalLoader, log *slog.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Service{cfg: cfg, store: store, tokens: tokens, users: users, log: log, metrics: m}
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue creates a refresh row for u and returns fresh access and refresh
// tokens. The caller has already authenticated u and checked its status.
func (s *Service) Issue(ctx context.Context, now time.Time, u identity.User, meta ClientMeta) (Issued, error) {
	tok, secret, err := s.newToken(now, meta)
	if err != nil {
		return Issued{}, err
	}

	row, err := s.store.Create(ctx, now, u.ID, tok)
	if err != nil {
		return Issued{}, err
	}

	accessToken, accessExp, err := s.tokens.Issue(u, now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		TokenID:      row.ID,
		UserID:       u.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: secret,
		RefreshExp:   row.ExpiresAt,
		User:         u,
	}, nil
}

// Rotate exchanges a refresh secret for a new access token and refresh secret.
//
// Failures are *RotationError (invalid, expired, reused) or an account
// *identity.StatusError. Presenting a secret that was already rotated away
// revokes every refresh token of its principal.
func (s *Service) Rotate(ctx context.Context, now time.Time, secret string, meta ClientMeta) (Issued, error) {
	secret, ok := token.Normalize(secret)
	if !ok {
		s.metrics.Rotation(string(ReasonInvalid))
		return Issued{}, rotationFailed(ReasonInvalid)
	}
	hash := token.HashHex(secret)

	successor, newSecret, err := s.newToken(now, meta)
	if err != nil {
		return Issued{}, err
	}

	old, next, err := s.store.Rotate(ctx, now, hash, successor)
	if errors.Is(err, ErrNotClaimed) {
		return Issued{}, s.classify(ctx, now, hash, meta)
	}
	if err != nil {
		s.metrics.Rotation("error")
		return Issued{}, err
	}

	u, err := s.users.GetUserByID(ctx, old.UserID)
	if err != nil {
		s.metrics.Rotation("error")
		return Issued{}, err
	}
	if st := identity.CheckStatus(u, now); !st.OK() {
		if _, err := s.store.RevokeAll(ctx, now, u.ID, RevokeAccountStatus); err != nil {
			return Issued{}, err
		}
		s.log.Info("auth.refresh.account_not_active", "user_id", u.ID, "status", string(st))
		s.metrics.Rotation(string(st))
		return Issued{}, st.Err()
	}

	accessToken, accessExp, err := s.tokens.Issue(u, now)
	if err != nil {
		return Issued{}, err
	}

	s.metrics.Rotation("ok")
	return Issued{
		TokenID:      next.ID,
		UserID:       u.ID,
		AccessToken:  accessToken,
		AccessExp:    accessExp,
		RefreshToken: newSecret,
		RefreshExp:   next.ExpiresAt,
		User:         u,
	}, nil
}

// classify explains a zero-row claim by re-reading the row.
// Order matters: a replaced row is reuse even if it has since been revoked,
// so every concurrent loser reports reused.
func (s *Service) classify(ctx context.Context, now time.Time, hash string, meta ClientMeta) error {
	row, err := s.store.GetByHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		s.metrics.Rotation(string(ReasonInvalid))
		return rotationFailed(ReasonInvalid)
	}
	if err != nil {
		s.metrics.Rotation("error")
		return err
	}

	switch {
	case row.ReplacedBy != nil:
		revoked, err := s.store.RevokeAll(ctx, now, row.UserID, RevokeReuseDetected)
		if err != nil {
			return err
		}
		s.log.Warn("auth.refresh.reuse_detected",
			"user_id", row.UserID,
			"token_id", row.ID,
			"revoked", revoked,
			"claim_in_flight", row.Claimed(),
			"user_agent", meta.UserAgent,
			"ip", ipString(meta),
		)
		s.metrics.ReuseDetected()
		s.metrics.Rotation(string(ReasonReused))
		return rotationFailed(ReasonReused)

	case row.RevokedAt != nil, !row.ExpiresAt.After(now):
		s.metrics.Rotation(string(ReasonExpired))
		return rotationFailed(ReasonExpired)

	default:
		// The row looks usable yet the claim missed it; decline without detail.
		s.log.Error("auth.refresh.claim_inconsistent", "token_id", row.ID)
		s.metrics.Rotation(string(ReasonInvalid))
		return rotationFailed(ReasonInvalid)
	}
}

// RevokeOne revokes the refresh token behind secret (logout). found is false
// for unknown or already revoked secrets.
func (s *Service) RevokeOne(ctx context.Context, now time.Time, secret string) (bool, error) {
	secret, ok := token.Normalize(secret)
	if !ok {
		return false, nil
	}
	return s.store.RevokeByHash(ctx, now, token.HashHex(secret), RevokeLogout)
}

// RevokeAll revokes every refresh token of userID.
func (s *Service) RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	n, err := s.store.RevokeAll(ctx, now, userID, reason)
	if err != nil {
		return 0, err
	}
	s.log.Info("auth.refresh.revoke_all", "user_id", userID, "reason", reason, "revoked", n)
	return n, nil
}

// IssueAccessToken issues an access token without touching refresh state.
func (s *Service) IssueAccessToken(u identity.User, now time.Time) (string, time.Time, error) {
	return s.tokens.Issue(u, now)
}

// VerifyAccessToken validates an access token statelessly.
func (s *Service) VerifyAccessToken(tok string, now time.Time) (AccessClaims, error) {
	return s.tokens.Verify(tok, now)
}

func (s *Service) newToken(now time.Time, meta ClientMeta) (NewToken, string, error) {
	secret, err := token.NewOpaque(s.cfg.RefreshTokenBytes)
	if err != nil {
		return NewToken{}, "", err
	}
	id, err := identity.NewULID(now)
	if err != nil {
		return NewToken{}, "", err
	}
	return NewToken{
		ID:        id,
		Hash:      token.HashHex(secret),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		Meta:      meta,
	}, secret, nil
}

func ipString(meta ClientMeta) string {
	if meta.IP == nil {
		return ""
	}
	return meta.IP.String()
}
