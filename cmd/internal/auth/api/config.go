package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Cookie names and the refresh cookie path are part of the client contract.
const (
	DefaultRefreshCookieName = "warden_refresh"
	DefaultAccessCookieName  = "warden_access"
	RefreshCookiePath        = "/auth/refresh"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	AccessCookieName  string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

// DefaultConfig returns production defaults: Secure, SameSite=Lax cookies.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20,
		RefreshCookieName: DefaultRefreshCookieName,
		AccessCookieName:  DefaultAccessCookieName,
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults. In dev mode cookies default to non-Secure so plain-HTTP local
// servers work.
func LoadConfigFromEnv(dev bool) Config {
	d := DefaultConfig()
	cfg := Config{
		TrustProxy:        envBool("WARDEN_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("WARDEN_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		RefreshCookieName: envString("WARDEN_AUTH_REFRESH_COOKIE_NAME", d.RefreshCookieName),
		AccessCookieName:  envString("WARDEN_AUTH_ACCESS_COOKIE_NAME", d.AccessCookieName),
		CookieDomain:      strings.TrimSpace(os.Getenv("WARDEN_AUTH_COOKIE_DOMAIN")),
		CookieSecure:      envBool("WARDEN_AUTH_COOKIE_SECURE", !dev),
		CookieSameSite:    parseSameSite(os.Getenv("WARDEN_AUTH_COOKIE_SAMESITE")),
	}
	return cfg.normalized()
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		c.RefreshCookieName = d.RefreshCookieName
	}
	if strings.TrimSpace(c.AccessCookieName) == "" {
		c.AccessCookieName = d.AccessCookieName
	}
	if c.AccessCookieName == c.RefreshCookieName {
		c.AccessCookieName = c.RefreshCookieName + "_access"
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = d.CookieSameSite
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return c
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
