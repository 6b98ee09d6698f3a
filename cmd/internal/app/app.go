// Package app wires the warden server runtime: config, logging, stores,
// the auth HTTP surface and the retention sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"warden/cmd/identity"
	authapi "warden/cmd/internal/auth/api"
	"warden/cmd/internal/auth/login"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"
	"warden/cmd/internal/ratelimit"
	"warden/cmd/internal/retention"
	"warden/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App owns every long-lived dependency of the server.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	redis  *redis.Client

	metrics  *metrics.Metrics
	users    identity.Store
	sessions *session.Service
	resets   *reset.Service
	auth     *login.Authenticator
	sweeper  *retention.Sweeper

	handler http.Handler
}

// stores groups the persistence backends chosen by newStores.
type stores struct {
	users    identity.Store
	sessions session.Store
	resets   reset.Store
	auditor  authapi.Auditor
}

// New constructs a fully wired App. The caller owns it and must call Close
// unless Run is used.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	m, err := metrics.New(nil)
	if err != nil {
		return err
	}
	a.metrics = m

	pcfg, err := password.FromEnv()
	if err != nil {
		return fmt.Errorf("password config: %w", err)
	}
	hasher, err := password.New(pcfg)
	if err != nil {
		return err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	tokens, err := session.NewAccessTokenManager(sessCfg)
	if err != nil {
		return err
	}

	st, err := a.newStores(ctx)
	if err != nil {
		return err
	}
	a.users = st.users

	a.sessions = session.NewService(sessCfg, st.sessions, tokens, st.users, log, m)

	a.resets, err = reset.NewService(st.resets, a.sessions,
		reset.WithTTL(reset.PurposeReset, cfg.ResetTTL),
		reset.WithTTL(reset.PurposeInvite, cfg.InviteTTL),
		reset.WithLogger(log),
		reset.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	a.auth, err = login.New(st.users, hasher, a.sessions, a.resets,
		login.WithLockoutPolicy(cfg.LockoutPolicy()),
		login.WithLogger(log),
		login.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	limiter, err := a.newLimiter(ctx)
	if err != nil {
		return err
	}

	var notifier authapi.ResetNotifier = authapi.NoopResetNotifier{}
	if cfg.Dev {
		notifier = authapi.LogResetNotifier{Log: log}
	} else {
		log.Warn("auth.password.reset_notifier.noop")
	}

	handler, err := authapi.NewHandler(authapi.LoadConfigFromEnv(cfg.Dev), a.auth, a.sessions,
		authapi.WithLogger(log),
		authapi.WithLimiter(limiter),
		authapi.WithAuditor(st.auditor),
		authapi.WithResetNotifier(notifier),
		authapi.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	a.sweeper = retention.NewSweeper(st.users, a.sessions, a.resets,
		retention.WithBatchSize(cfg.SweepBatchSize),
		retention.WithLogger(log),
		retention.WithMetrics(m),
	)

	a.handler = WithRequestLogging(newRouter(log, cfg, a.dbPool, m, handler), log)
	return nil
}

// newStores decides between Postgres-backed persistence and in-memory stores.
func (a *App) newStores(ctx context.Context) (stores, error) {
	cfg, log := a.cfg, a.log

	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		users := identity.NewMemoryStore()
		return stores{
			users:    users,
			sessions: session.NewMemoryStore(),
			resets:   reset.NewMemoryStore(users),
			auditor:  authapi.NoopAuditor{},
		}, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	a.dbPool = pool
	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema, "auto_migrate", cfg.AutoMigrate)

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	sessions, err := session.NewPostgresStore(pool, session.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	resets, err := reset.NewPostgresStore(pool, reset.WithSchema(cfg.DBSchema))
	if err != nil {
		return stores{}, err
	}
	auditor, err := authapi.NewPostgresAuditor(pool, cfg.DBSchema, log)
	if err != nil {
		return stores{}, err
	}

	return stores{users: users, sessions: sessions, resets: resets, auditor: auditor}, nil
}

// newLimiter picks Redis when WARDEN_REDIS_ADDR is set, else an in-process
// counter that is only correct for a single replica.
func (a *App) newLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	rl := a.cfg.RateLimit()
	if a.cfg.RedisAddr == "" {
		a.log.Info("ratelimit.memory", "max", rl.Max, "window", rl.Window.String())
		return ratelimit.NewMemoryLimiter(rl), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = client
	a.log.Info("ratelimit.redis", "addr", a.cfg.RedisAddr, "max", rl.Max, "window", rl.Window.String())
	return ratelimit.NewRedisLimiter(client, rl), nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Auth returns the account authenticator, for CLI commands.
func (a *App) Auth() *login.Authenticator { return a.auth }

// SweepOnce runs a single anonymization pass.
func (a *App) SweepOnce(ctx context.Context, days int) (int, error) {
	return a.sweeper.AnonymizeSoftDeletedOlderThan(ctx, time.Now().UTC(), days)
}

// Run serves HTTP and runs the retention sweep until ctx is cancelled or the
// server fails. It closes the App before returning.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil, "dev", a.cfg.Dev)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.cfg.SweepInterval > 0 {
		g.Go(func() error {
			a.log.Info("retention.sweep.start", "interval", a.cfg.SweepInterval.String(), "days", a.cfg.RetentionDays)
			return a.sweeper.Run(gctx, a.cfg.SweepInterval, a.cfg.RetentionDays)
		})
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases the DB pool and Redis client. It is safe to call twice.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
