// Package migrations embeds warden's Postgres schema.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres/*.up.sql
var files embed.FS

// DefaultSchema is the schema name written in the migration files.
const DefaultSchema = "warden"

// Postgres returns the up migrations in order, rewritten to target schema.
func Postgres(schema string) ([]string, error) {
	if strings.TrimSpace(schema) == "" {
		schema = DefaultSchema
	}

	names, err := fs.Glob(files, "postgres/*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	quoted := pgx.Identifier{schema}.Sanitize()
	out := make([]string, 0, len(names))
	for _, name := range names {
		b, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("migrations: read %s: %w", name, err)
		}
		sql := string(b)
		sql = strings.ReplaceAll(sql, "SCHEMA IF NOT EXISTS "+DefaultSchema+";", "SCHEMA IF NOT EXISTS "+quoted+";")
		sql = strings.ReplaceAll(sql, " "+DefaultSchema+".", " "+quoted+".")
		out = append(out, sql)
	}
	return out, nil
}

// Apply runs every up migration against pool. The files are idempotent.
func Apply(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	stmts, err := Postgres(schema)
	if err != nil {
		return err
	}
	for i, sql := range stmts {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("migrations: apply #%d: %w", i+1, err)
		}
	}
	return nil
}
