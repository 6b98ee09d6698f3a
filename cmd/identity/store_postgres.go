package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
//   - Every mutation is one guarded UPDATE; RowsAffected decides not-found.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "warden").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "warden",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const userColumns = `id, username, username_norm, email, email_norm, display_name,
	password_hash, role, is_active, must_reset_password,
	login_failed_count, locked_until, valid_from, access_expires_at,
	last_login_at, deleted_at, deletion_requested_at, anonymized_at,
	created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.UsernameNorm,
		&u.Email,
		&u.EmailNorm,
		&u.DisplayName,
		&u.PasswordHash,
		&role,
		&u.IsActive,
		&u.MustResetPassword,
		&u.LoginFailedCount,
		&u.LockedUntil,
		&u.ValidFrom,
		&u.AccessExpiresAt,
		&u.LastLoginAt,
		&u.DeletedAt,
		&u.DeletionRequestedAt,
		&u.AnonymizedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (s *PostgresStore) users() string { return pgIdent(s.schema, "users") }

// CreateUser inserts a new principal.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
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

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.users()+` (
		     id, username, username_norm, email, email_norm, display_name,
		     password_hash, role, is_active, must_reset_password,
		     valid_from, access_expires_at, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		 RETURNING `+userColumns,
		u.ID,
		u.Username,
		u.UsernameNorm,
		u.Email,
		u.EmailNorm,
		u.DisplayName,
		u.PasswordHash,
		string(u.Role),
		u.IsActive,
		u.MustResetPassword,
		u.ValidFrom,
		u.AccessExpiresAt,
		now,
	)
	out, err := scanUser(row)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return out, nil
}

// GetUserByID loads a principal by id, including anonymized rows.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByID",
		`SELECT `+userColumns+` FROM `+s.users()+` WHERE id = $1`,
		strings.TrimSpace(id),
	)
}

// GetUserByUsername loads a non-anonymized principal by normalized username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByUsername",
		`SELECT `+userColumns+` FROM `+s.users()+`
		  WHERE username_norm = $1 AND anonymized_at IS NULL`,
		NormalizeUsername(username),
	)
}

// GetUserByEmail loads a non-anonymized principal by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getOne(ctx, "identity.GetUserByEmail",
		`SELECT `+userColumns+` FROM `+s.users()+`
		  WHERE email_norm = $1 AND anonymized_at IS NULL`,
		NormalizeEmail(email),
	)
}

func (s *PostgresStore) getOne(ctx context.Context, op, sql string, arg string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if arg == "" {
		return User{}, userNotFound(op)
	}
	u, err := scanUser(s.pool.QueryRow(ctx, sql, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, err
	}
	return u, nil
}

// SetPassword replaces the password hash and clears reset/lockout state.
func (s *PostgresStore) SetPassword(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.SetPassword"

	if strings.TrimSpace(passwordHash) == "" {
		return invalid(op, "password hash is required")
	}
	return s.execOne(ctx, op,
		`UPDATE `+s.users()+`
		    SET password_hash = $2,
		        must_reset_password = FALSE,
		        login_failed_count = 0,
		        locked_until = NULL,
		        updated_at = $3
		  WHERE id = $1 AND anonymized_at IS NULL`,
		id, passwordHash, nowOr(now),
	)
}

// UpdateAccess applies an admin edit in one UPDATE.
func (s *PostgresStore) UpdateAccess(ctx context.Context, id string, in AccessUpdate, now time.Time) (User, error) {
	const op = "identity.UpdateAccess"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	var role *string
	if in.Role != nil {
		r, err := ParseRole(string(*in.Role))
		if err != nil {
			return User{}, invalid(op, "unknown role")
		}
		rs := string(r)
		role = &rs
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET role = COALESCE($2, role),
		        is_active = COALESCE($3, is_active),
		        must_reset_password = COALESCE($4, must_reset_password),
		        valid_from = CASE WHEN $5 THEN NULL ELSE COALESCE($6, valid_from) END,
		        access_expires_at = CASE WHEN $7 THEN NULL ELSE COALESCE($8, access_expires_at) END,
		        updated_at = $9
		  WHERE id = $1 AND anonymized_at IS NULL
		 RETURNING `+userColumns,
		id,
		role,
		in.IsActive,
		in.MustResetPassword,
		in.ClearValidFrom,
		utcPtr(in.ValidFrom),
		in.ClearAccessExpiresAt,
		utcPtr(in.AccessExpiresAt),
		nowOr(now),
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, userNotFound(op)
		}
		return User{}, err
	}
	return u, nil
}

// SoftDelete stamps deleted_at once and deletion_requested_at on every call.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return s.execOne(ctx, "identity.SoftDelete",
		`UPDATE `+s.users()+`
		    SET deleted_at = COALESCE(deleted_at, $2),
		        deletion_requested_at = $2,
		        updated_at = $2
		  WHERE id = $1 AND anonymized_at IS NULL`,
		id, nowOr(now),
	)
}

// RecordLoginFailure increments the counter and locks at threshold atomically.
func (s *PostgresStore) RecordLoginFailure(ctx context.Context, id string, now time.Time, policy LockoutPolicy) (LoginFailure, error) {
	const op = "identity.RecordLoginFailure"

	if err := ctx.Err(); err != nil {
		return LoginFailure{}, err
	}
	policy = policy.normalized()
	now = nowOr(now)

	var out LoginFailure
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.users()+`
		    SET login_failed_count = login_failed_count + 1,
		        locked_until = CASE
		            WHEN login_failed_count + 1 >= $3 THEN $2::timestamptz + make_interval(secs => $4)
		            ELSE locked_until
		        END,
		        updated_at = $2
		  WHERE id = $1
		 RETURNING login_failed_count, locked_until`,
		id, now, policy.Threshold, policy.Duration.Seconds(),
	).Scan(&out.Count, &out.LockedUntil)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LoginFailure{}, userNotFound(op)
		}
		return LoginFailure{}, err
	}
	out.Locked = out.Count >= policy.Threshold
	return out, nil
}

// RecordLoginSuccess resets lockout state and stamps last_login_at.
func (s *PostgresStore) RecordLoginSuccess(ctx context.Context, id string, now time.Time) error {
	return s.execOne(ctx, "identity.RecordLoginSuccess",
		`UPDATE `+s.users()+`
		    SET login_failed_count = 0,
		        locked_until = NULL,
		        last_login_at = $2,
		        updated_at = $2
		  WHERE id = $1`,
		id, nowOr(now),
	)
}

// ListAnonymizable returns soft-deleted rows older than cutoff, oldest first.
func (s *PostgresStore) ListAnonymizable(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM `+s.users()+`
		  WHERE deleted_at < $1 AND anonymized_at IS NULL
		  ORDER BY deleted_at ASC, id ASC
		  LIMIT $2`,
		cutoff.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Anonymize scrubs PII from a soft-deleted row. The guard makes reruns no-ops.
func (s *PostgresStore) Anonymize(ctx context.Context, id string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	placeholder := AnonymizedUsername(id)

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.users()+`
		    SET username = $2,
		        username_norm = $2,
		        email = NULL,
		        email_norm = NULL,
		        display_name = NULL,
		        password_hash = $3,
		        last_login_at = NULL,
		        login_failed_count = 0,
		        locked_until = NULL,
		        is_active = FALSE,
		        anonymized_at = $4,
		        updated_at = $4
		  WHERE id = $1
		    AND deleted_at IS NOT NULL
		    AND anonymized_at IS NULL`,
		id, placeholder, InvalidPasswordHash, nowOr(now),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) execOne(ctx context.Context, op, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return userNotFound(op)
	}
	return nil
}

// ---- helpers ----

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_users_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
