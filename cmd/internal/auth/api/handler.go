package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/login"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/metrics"
	"warden/cmd/internal/ratelimit"
)

// Handler wires HTTP auth endpoints to the login and session services.
type Handler struct {
	log *slog.Logger
	cfg Config

	auth     *login.Authenticator
	sessions *session.Service

	limiter  ratelimit.Limiter
	auditor  Auditor
	notifier ResetNotifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithLimiter enables login and reset-request throttling.
func WithLimiter(l ratelimit.Limiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithAuditor overrides the default no-op auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.auditor = a
		}
	}
}

// WithResetNotifier overrides the default no-op reset delivery.
func WithResetNotifier(n ResetNotifier) HandlerOption {
	return func(h *Handler) {
		if n != nil {
			h.notifier = n
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(cfg Config, auth *login.Authenticator, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if auth == nil || sessions == nil {
		return nil, errors.New("authapi: nil service")
	}
	h := &Handler{
		log:      slog.New(slog.DiscardHandler),
		cfg:      cfg.normalized(),
		auth:     auth,
		sessions: sessions,
		auditor:  NoopAuditor{},
		notifier: NoopResetNotifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

// Register mounts the auth routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.Post("/refresh", h.handleRefresh)
		r.Post("/logout", h.handleLogout)
		r.Post("/logout_all", h.handleLogoutAll)
		r.Get("/me", h.handleMe)
		r.Post("/password/change", h.handlePasswordChange)
		r.Post("/password/forgot", h.handlePasswordForgot)
		r.Post("/password/reset", h.handlePasswordReset)
	})
}

func (h *Handler) clock() time.Time { return h.now().UTC() }

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier and password are required")
		return
	}

	ctx := r.Context()
	now := h.clock()
	cm := h.client(r)

	if ok, retry := h.throttle(ctx, "login", cm); !ok {
		h.audit(ctx, "auth.login.rate_limited", "", cm, map[string]any{"identifier": identifier})
		writeRateLimited(w, retry)
		return
	}

	issued, err := h.auth.Login(ctx, now, identifier, req.Password, cm.meta())
	if err != nil {
		if errors.Is(err, login.ErrInvalidCredentials) {
			h.audit(ctx, "auth.login.failed", "", cm, map[string]any{"identifier": identifier})
		}
		h.writeAuthError(w, "auth.login", err)
		return
	}

	h.audit(ctx, "auth.login.success", issued.UserID, cm, map[string]any{"token_id": issued.TokenID})
	h.writeSession(w, now, issued)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	secret := cookieValue(r, h.cfg.RefreshCookieName)
	if secret == "" && r.ContentLength > 0 {
		var req refreshRequest
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
			return
		}
		secret = strings.TrimSpace(req.RefreshToken)
	}
	if secret == "" {
		writeError(w, http.StatusUnauthorized, string(session.ReasonInvalid), "refresh token required")
		return
	}

	ctx := r.Context()
	now := h.clock()
	cm := h.client(r)

	issued, err := h.sessions.Rotate(ctx, now, secret, cm.meta())
	if err != nil {
		if errors.Is(err, session.ErrRefreshReused) {
			h.audit(ctx, "auth.refresh.reuse_detected", "", cm, nil)
		}
		var re *session.RotationError
		if errors.As(err, &re) || identity.IsAccountNotActive(err) {
			h.clearSessionCookies(w)
		}
		h.writeAuthError(w, "auth.refresh", err)
		return
	}
	h.writeSession(w, now, issued)
}

func (h *Handler) writeSession(w http.ResponseWriter, now time.Time, issued session.Issued) {
	h.setSessionCookies(w, now, issued.RefreshToken, issued.RefreshExp, issued.AccessToken, issued.AccessExp)
	writeJSON(w, http.StatusOK, toSessionResponse(issued))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secret := cookieValue(r, h.cfg.RefreshCookieName)
	if secret != "" {
		found, err := h.sessions.RevokeOne(ctx, h.clock(), secret)
		if err != nil {
			h.log.Error("auth.logout.fail", "err", err)
			writeServerError(w)
			return
		}
		if found {
			h.audit(ctx, "auth.logout", "", h.client(r), nil)
		}
	}
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if _, err := h.sessions.RevokeAll(ctx, h.clock(), claims.Subject, session.RevokeLogoutAll); err != nil {
		h.log.Error("auth.logout_all.fail", "err", err)
		writeServerError(w)
		return
	}
	h.audit(ctx, "auth.logout_all", claims.Subject, h.client(r), nil)
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:                claims.Subject,
		Username:          claims.Username,
		Role:              string(claims.Role),
		IsActive:          claims.IsActive,
		MustResetPassword: claims.MustResetPassword,
		ExpiresAt:         claims.ExpiresAt,
	})
}

func (h *Handler) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	if err := h.auth.ChangePassword(ctx, h.clock(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		h.writeAuthError(w, "auth.password.change", err)
		return
	}
	h.audit(ctx, "auth.password.changed", claims.Subject, h.client(r), nil)
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req passwordForgotRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identifier is required")
		return
	}

	ctx := r.Context()
	cm := h.client(r)
	if ok, retry := h.throttle(ctx, "password_forgot", cm); !ok {
		writeRateLimited(w, retry)
		return
	}

	secret, err := h.auth.RequestPasswordReset(ctx, h.clock(), identifier)
	if err != nil {
		h.writeAuthError(w, "auth.password.forgot", err)
		return
	}
	if secret != "" {
		if err := h.notifier.SendPasswordReset(ctx, ResetMessage{Identifier: identifier, Secret: secret}); err != nil {
			h.log.Error("auth.password.forgot.notify.fail", "err", err)
		}
	}
	// Same answer whether or not the account exists.
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	ctx := r.Context()
	userID, err := h.auth.CompletePasswordReset(ctx, h.clock(), req.Token, req.NewPassword)
	if err != nil {
		h.writeAuthError(w, "auth.password.reset", err)
		return
	}
	h.audit(ctx, "auth.password.reset", userID, h.client(r), nil)
	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.AccessClaims, bool) {
	tok := h.accessToken(r)
	if tok == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing access token")
		return session.AccessClaims{}, false
	}
	claims, err := h.sessions.VerifyAccessToken(tok, h.clock())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid access token")
		return session.AccessClaims{}, false
	}
	return claims, true
}
