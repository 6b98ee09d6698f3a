package app

import (
	"time"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/ratelimit"
	"warden/migrations"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string // json|text

	// Dev relaxes cookie Secure defaults and logs reset secrets instead of
	// dropping them. Never enable it in production.
	Dev bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, WARDEN_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LoginRateMax    int
	LoginRateWindow time.Duration

	LockoutThreshold int
	LockoutDuration  time.Duration

	ResetTTL  time.Duration
	InviteTTL time.Duration

	// SweepInterval <= 0 disables the background anonymization sweep.
	SweepInterval  time.Duration
	RetentionDays  int
	SweepBatchSize int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	lockout := identity.DefaultLockoutPolicy()
	rl := ratelimit.DefaultConfig()
	dev := EnvBool("WARDEN_DEV", false)

	logFormat := "json"
	if dev {
		logFormat = "text"
	}

	return Config{
		HTTPAddr:  EnvString("WARDEN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("WARDEN_LOG_LEVEL", "info"),
		LogFormat: EnvString("WARDEN_LOG_FORMAT", logFormat),
		Dev:       dev,

		ReadHeaderTimeout: EnvDuration("WARDEN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WARDEN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WARDEN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WARDEN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("WARDEN_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),

		MaxHeaderBytes: EnvInt("WARDEN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WARDEN_DATABASE_URL", ""),
		DBSchema:    EnvString("WARDEN_DB_SCHEMA", migrations.DefaultSchema),
		DBMaxConns:  EnvInt32("WARDEN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WARDEN_DB_MIN_CONNS", 0),
		AutoMigrate: EnvBool("WARDEN_DB_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("WARDEN_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("WARDEN_REQUIRE_TOKEN_HMAC", false),

		RedisAddr:       EnvString("WARDEN_REDIS_ADDR", ""),
		RedisPassword:   EnvString("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:         EnvIntAllowZero("WARDEN_REDIS_DB", 0),
		LoginRateMax:    EnvInt("WARDEN_LOGIN_RATE_MAX", int(rl.Max)),
		LoginRateWindow: EnvDuration("WARDEN_LOGIN_RATE_WINDOW", rl.Window),

		LockoutThreshold: EnvInt("WARDEN_LOCKOUT_THRESHOLD", lockout.Threshold),
		LockoutDuration:  EnvDuration("WARDEN_LOCKOUT_DURATION", lockout.Duration),

		ResetTTL:  EnvDuration("WARDEN_RESET_TTL", reset.DefaultResetTTL),
		InviteTTL: EnvDuration("WARDEN_INVITE_TTL", reset.DefaultInviteTTL),

		SweepInterval:  EnvDurationAllowZero("WARDEN_SWEEP_INTERVAL", time.Hour),
		RetentionDays:  EnvIntAllowZero("WARDEN_RETENTION_DAYS", 30),
		SweepBatchSize: EnvInt("WARDEN_SWEEP_BATCH_SIZE", 100),
	}
}

// LockoutPolicy returns the configured lockout policy.
func (c Config) LockoutPolicy() identity.LockoutPolicy {
	return identity.LockoutPolicy{Threshold: c.LockoutThreshold, Duration: c.LockoutDuration}
}

// RateLimit returns the login limiter config.
func (c Config) RateLimit() ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.Max = int64(c.LoginRateMax)
	rl.Window = c.LoginRateWindow
	return rl
}
