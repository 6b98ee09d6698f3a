// Package retention anonymizes soft-deleted accounts once their retention
// window has passed.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/metrics"
)

// DefaultBatchSize bounds one ListAnonymizable page.
const DefaultBatchSize = 100

const revokeReason = "anonymized"

// Anonymizer is the slice of identity.Store the sweep needs.
type Anonymizer interface {
	ListAnonymizable(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Anonymize(ctx context.Context, id string, now time.Time) (bool, error)
}

// SessionRevoker revokes every refresh token of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error)
}

// ResetRevoker revokes every outstanding reset token of a user.
type ResetRevoker interface {
	RevokeAll(ctx context.Context, now time.Time, userID string) (int64, error)
}

// Sweeper runs the anonymization sweep.
type Sweeper struct {
	users    Anonymizer
	sessions SessionRevoker
	resets   ResetRevoker
	batch    int
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize sets the page size.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper constructs a Sweeper. sessions and resets may be nil.
func NewSweeper(users Anonymizer, sessions SessionRevoker, resets ResetRevoker, opts ...Option) *Sweeper {
	s := &Sweeper{
		users:    users,
		sessions: sessions,
		resets:   resets,
		batch:    DefaultBatchSize,
		log:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AnonymizeSoftDeletedOlderThan scrubs every account soft-deleted more than
// days before now and returns how many rows it changed. Re-running it is a
// no-op for rows already scrubbed.
func (s *Sweeper) AnonymizeSoftDeletedOlderThan(ctx context.Context, now time.Time, days int) (int, error) {
	if days < 0 {
		return 0, errors.New("retention: days must be >= 0")
	}
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		ids, err := s.users.ListAnonymizable(ctx, cutoff, s.batch)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			break
		}

		changed := 0
		for _, id := range ids {
			ok, err := s.anonymize(ctx, now, id)
			if err != nil {
				return total, err
			}
			if ok {
				changed++
			}
		}
		total += changed
		s.metrics.Anonymized(changed)

		// A short page is the last one. A full page with no progress means
		// another sweeper holds the same rows; stop rather than spin.
		if len(ids) < s.batch || changed == 0 {
			break
		}
	}

	if total > 0 {
		s.log.Info("retention.anonymized", "count", total, "cutoff", cutoff)
	}
	return total, nil
}

// anonymize revokes tokens before scrubbing the row. Once anonymized_at is set
// ListAnonymizable never returns the id again, so a revocation failure must
// leave the row eligible for the next sweep.
func (s *Sweeper) anonymize(ctx context.Context, now time.Time, id string) (bool, error) {
	if s.sessions != nil {
		if _, err := s.sessions.RevokeAll(ctx, now, id, revokeReason); err != nil {
			return false, err
		}
	}
	if s.resets != nil {
		if _, err := s.resets.RevokeAll(ctx, now, id); err != nil {
			return false, err
		}
	}
	return s.users.Anonymize(ctx, id, now)
}

// Run sweeps once immediately and then every interval until ctx is done.
// Sweep errors are logged and counted; they never stop the loop.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration, days int) error {
	if interval <= 0 {
		return errors.New("retention: interval must be > 0")
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := s.AnonymizeSoftDeletedOlderThan(ctx, time.Now().UTC(), days); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.metrics.SweepFailed()
			s.log.Error("retention.sweep.fail", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

var _ Anonymizer = identity.Store(nil)
