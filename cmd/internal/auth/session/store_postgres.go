package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures a PostgresStore.
type StoreOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the DB schema used by the store (default: "warden").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" || !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
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
		return nil, fmt.Errorf("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgIdent(s.schema, "refresh_tokens") }

const rowColumns = `id, user_id, token_hash, created_at, expires_at, last_used_at,
	revoked_at, revocation_reason, replaced_by, user_agent, host(ip)`

func scanRow(row pgx.Row) (Row, error) {
	var (
		out    Row
		ipText *string
	)
	err := row.Scan(
		&out.ID,
		&out.UserID,
		&out.TokenHash,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.LastUsedAt,
		&out.RevokedAt,
		&out.RevocationReason,
		&out.ReplacedBy,
		&out.UserAgent,
		&ipText,
	)
	if err != nil {
		return Row{}, err
	}
	if ipText != nil {
		out.IP = net.ParseIP(*ipText)
	}
	return out, nil
}

// Create inserts an active refresh row.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, tok NewToken) (Row, error) {
	return insertTx(ctx, s.pool, s.table(), now, userID, tok)
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertTx(ctx context.Context, q pgQuerier, table string, now time.Time, userID string, tok NewToken) (Row, error) {
	row := q.QueryRow(ctx,
		`INSERT INTO `+table+` (
		     id, user_id, token_hash, created_at, expires_at, user_agent, ip
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7::inet)
		 RETURNING `+rowColumns,
		tok.ID,
		userID,
		tok.Hash,
		now,
		tok.ExpiresAt,
		nullIfEmpty(tok.Meta.UserAgent),
		ipText(tok.Meta.IP),
	)
	return scanRow(row)
}

// GetByHash loads a row by token hash.
func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (Row, error) {
	row, err := scanRow(s.pool.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM `+s.table()+` WHERE token_hash = $1`,
		hash,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrNotFound
	}
	return row, err
}

// Rotate runs claim, successor insert and finalize in one transaction.
//
// The claim UPDATE takes the row lock. A concurrent claim on the same row
// blocks on that lock, re-evaluates its predicate after commit, sees
// replaced_by set and affects zero rows.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, hash string, successor NewToken) (Row, Row, error) {
	table := s.table()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Row{}, Row{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	marker := ClaimMarkerPrefix + uuid.NewString()

	var oldID, userID string
	err = tx.QueryRow(ctx,
		`UPDATE `+table+`
		    SET replaced_by = $2
		  WHERE token_hash = $1
		    AND revoked_at IS NULL
		    AND replaced_by IS NULL
		    AND expires_at > $3
		 RETURNING id, user_id`,
		hash, marker, now,
	).Scan(&oldID, &userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, Row{}, ErrNotClaimed
	}
	if err != nil {
		return Row{}, Row{}, err
	}

	next, err := insertTx(ctx, tx, table, now, userID, successor)
	if err != nil {
		return Row{}, Row{}, err
	}

	old, err := scanRow(tx.QueryRow(ctx,
		`UPDATE `+table+`
		    SET replaced_by = $3,
		        last_used_at = $4
		  WHERE id = $1 AND replaced_by = $2
		 RETURNING `+rowColumns,
		oldID, marker, next.ID, now,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// The marker is ours and the row is locked; this means schema drift.
		return Row{}, Row{}, fmt.Errorf("session: claim marker lost for %s", oldID)
	}
	if err != nil {
		return Row{}, Row{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Row{}, Row{}, err
	}
	return old, next, nil
}

// RevokeByHash revokes one unrevoked row.
func (s *PostgresStore) RevokeByHash(ctx context.Context, now time.Time, hash, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET revoked_at = $2,
		        revocation_reason = $3
		  WHERE token_hash = $1 AND revoked_at IS NULL`,
		hash, now, reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAll revokes every unrevoked row of userID.
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET revoked_at = $2,
		        revocation_reason = $3
		  WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now, reason,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func ipText(ip net.IP) *string {
	if ip == nil {
		return nil
	}
	s := ip.String()
	return &s
}
