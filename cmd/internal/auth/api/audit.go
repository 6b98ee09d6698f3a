package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one audit_log row.
type AuditEvent struct {
	Action    string
	UserID    *string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records security-relevant events. Implementations must not fail
// the request: errors are theirs to log.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// NoopAuditor drops every event.
type NoopAuditor struct{}

// Record implements Auditor.
func (NoopAuditor) Record(context.Context, AuditEvent) {}

// PostgresAuditor inserts into <schema>.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAuditor constructs a PostgresAuditor.
func NewPostgresAuditor(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "warden"
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

// Record implements Auditor.
func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	var ipVal *string
	if ev.IP != nil {
		s := ev.IP.String()
		ipVal = &s
	}

	meta := "{}"
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			meta = string(b)
		}
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+a.table+` (user_id, action, created_at, ip, user_agent, meta)
		 VALUES ($1, $2, now(), $3::inet, $4, $5::jsonb)`,
		ev.UserID, action, ipVal, trimOrNil(ev.UserAgent), meta,
	)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) audit(ctx context.Context, action string, userID string, cm clientInfo, meta map[string]any) {
	ev := AuditEvent{Action: action, IP: cm.ip, UserAgent: cm.ua, Meta: meta}
	if userID != "" {
		ev.UserID = &userID
	}
	h.auditor.Record(ctx, ev)
}
