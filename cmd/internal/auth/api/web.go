package authapi

import (
	"net/http"
	"strings"
	"time"
)

// setSessionCookies writes the refresh secret (scoped to the refresh route)
// and the short-lived access token.
func (h *Handler) setSessionCookies(w http.ResponseWriter, now time.Time, refreshToken string, refreshExp time.Time, accessToken string, accessExp time.Time) {
	h.setCookie(w, h.cfg.RefreshCookieName, refreshToken, RefreshCookiePath, refreshExp.Sub(now))
	h.setCookie(w, h.cfg.AccessCookieName, accessToken, "/", accessExp.Sub(now))
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	h.expireCookie(w, h.cfg.RefreshCookieName, RefreshCookiePath)
	h.expireCookie(w, h.cfg.AccessCookieName, "/")
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value, path string, ttl time.Duration) {
	maxAge := int(ttl / time.Second)
	if maxAge <= 0 {
		maxAge = -1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func (h *Handler) expireCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Domain:   h.cfg.CookieDomain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// accessToken reads the bearer header, falling back to the access cookie.
func (h *Handler) accessToken(r *http.Request) string {
	if tok := bearerToken(r); tok != "" {
		return tok
	}
	return cookieValue(r, h.cfg.AccessCookieName)
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
