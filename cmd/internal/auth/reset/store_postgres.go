package reset

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists reset tokens in PostgreSQL. Consume also writes
// users.password_hash, so both tables must live in the same schema.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "warden").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "warden"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

func (s *PostgresStore) tokens() string { return pgIdent(s.schema, "reset_tokens") }
func (s *PostgresStore) users() string  { return pgIdent(s.schema, "users") }

const tokenColumns = `id, user_id, purpose, created_at, expires_at, used_at, revoked_at`

func scanToken(row pgx.Row) (Token, error) {
	var (
		out     Token
		purpose string
	)
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&purpose,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.UsedAt,
		&out.RevokedAt,
	)
	if err != nil {
		return Token{}, err
	}
	out.Purpose = Purpose(purpose)
	return out, nil
}

// Create revokes outstanding tokens of the user and inserts the new one in a
// single transaction.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.UserID) == "" || len(in.TokenHash) != 64 {
		return Token{}, ErrInvalidInput
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Token{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.tokens()+`
		    SET revoked_at = $2
		  WHERE user_id = $1 AND used_at IS NULL AND revoked_at IS NULL`,
		in.UserID, in.CreatedAt,
	); err != nil {
		return Token{}, err
	}

	out, err := scanToken(tx.QueryRow(ctx,
		`INSERT INTO `+s.tokens()+` (id, user_id, token_hash, purpose, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+tokenColumns,
		in.ID, in.UserID, in.TokenHash, string(in.Purpose), in.CreatedAt, in.ExpiresAt,
	))
	if err != nil {
		return Token{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Token{}, err
	}
	return out, nil
}

// GetByTokenHash fetches a token by hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Token, error) {
	out, err := scanToken(s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM `+s.tokens()+` WHERE token_hash = $1`,
		tokenHash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrNotFound
	}
	return out, err
}

// Consume flips used_at and stores the password in one transaction.
func (s *PostgresStore) Consume(ctx context.Context, now time.Time, tokenHash, newPasswordHash string) (Token, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Token{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := scanToken(tx.QueryRow(ctx,
		`UPDATE `+s.tokens()+`
		    SET used_at = $2
		  WHERE token_hash = $1
		    AND used_at IS NULL
		    AND revoked_at IS NULL
		    AND expires_at > $2
		 RETURNING `+tokenColumns,
		tokenHash, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		cur, gerr := s.GetByTokenHash(ctx, tokenHash)
		if gerr != nil {
			return Token{}, gerr
		}
		return cur, ErrNotActive
	}
	if err != nil {
		return Token{}, err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE `+s.users()+`
		    SET password_hash = $2,
		        must_reset_password = false,
		        login_failed_count = 0,
		        locked_until = NULL,
		        updated_at = $3
		  WHERE id = $1 AND anonymized_at IS NULL`,
		out.UserID, newPasswordHash, now,
	)
	if err != nil {
		return Token{}, err
	}
	if tag.RowsAffected() != 1 {
		return Token{}, fmt.Errorf("reset: user %s: %w", out.UserID, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return Token{}, err
	}
	return out, nil
}

// RevokeOutstanding revokes unused tokens of userID.
func (s *PostgresStore) RevokeOutstanding(ctx context.Context, now time.Time, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.tokens()+`
		    SET revoked_at = $2
		  WHERE user_id = $1 AND used_at IS NULL AND revoked_at IS NULL`,
		userID, now,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
