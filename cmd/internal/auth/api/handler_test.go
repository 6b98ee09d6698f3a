package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/login"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/auth/session"
	"warden/cmd/internal/ratelimit"
	"warden/cmd/security/password"
)

const (
	testPassword  = "correct horse battery"
	testJWTSecret = "authapi-test-secret-authapi-test-secret"
)

type captureNotifier struct {
	mu   sync.Mutex
	msgs []ResetMessage
}

func (c *captureNotifier) SendPasswordReset(_ context.Context, msg ResetMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

type captureAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (c *captureAuditor) Record(_ context.Context, ev AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, ev.Action)
}

func (c *captureAuditor) has(action string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.actions {
		if a == action {
			return true
		}
	}
	return false
}

type fixture struct {
	router   http.Handler
	notifier *captureNotifier
	auditor  *captureAuditor
	sessCfg  session.Config
	now      time.Time
}

func newFixture(t *testing.T, opts ...HandlerOption) *fixture {
	t.Helper()

	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
	users := identity.NewMemoryStore()

	pcfg := password.DefaultConfig()
	pcfg.Params.MemoryKiB = 8 * 1024
	pcfg.Params.Iterations = 1
	pcfg.Params.Parallelism = 1
	hasher, err := password.New(pcfg)
	require.NoError(t, err)

	scfg := session.DefaultConfig()
	scfg.JWTSecret = testJWTSecret
	tokens, err := session.NewJWTManager(scfg)
	require.NoError(t, err)
	sessions := session.NewService(scfg, session.NewMemoryStore(), tokens, users, nil, nil)

	resets, err := reset.NewService(reset.NewMemoryStore(users), sessions)
	require.NoError(t, err)
	auth, err := login.New(users, hasher, sessions, resets)
	require.NoError(t, err)

	email := "navid@example.com"
	_, err = auth.Provision(context.Background(), now, login.NewUser{
		Username: "navid",
		Email:    &email,
		Password: testPassword,
	})
	require.NoError(t, err)

	f := &fixture{notifier: &captureNotifier{}, auditor: &captureAuditor{}, sessCfg: scfg, now: now}
	base := []HandlerOption{
		WithClock(func() time.Time { return f.now }),
		WithResetNotifier(f.notifier),
		WithAuditor(f.auditor),
	}
	h, err := NewHandler(DefaultConfig(), auth, sessions, append(base, opts...)...)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.Register(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) login(t *testing.T, identifier, pw string) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, "/auth/login", loginRequest{Identifier: identifier, Password: pw}, nil)
}

func cookieNamed(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error.Code
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestLogin_SetsCookiesAndBody(t *testing.T) {
	f := newFixture(t)

	rr := f.login(t, "navid", testPassword)
	require.Equal(t, http.StatusOK, rr.Code)

	var body sessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(t, body.AccessToken)
	require.Equal(t, "navid", body.User.Username)
	require.Equal(t, f.now.Add(f.sessCfg.AccessTokenTTL), body.AccessExpiresAt)

	refresh := cookieNamed(rr, DefaultRefreshCookieName)
	require.NotNil(t, refresh)
	require.Equal(t, RefreshCookiePath, refresh.Path)
	require.True(t, refresh.HttpOnly)
	require.True(t, refresh.Secure)
	require.Equal(t, http.SameSiteLaxMode, refresh.SameSite)
	require.Equal(t, int(f.sessCfg.RefreshTTL/time.Second), refresh.MaxAge)

	access := cookieNamed(rr, DefaultAccessCookieName)
	require.NotNil(t, access)
	require.Equal(t, "/", access.Path)
	require.Equal(t, body.AccessToken, access.Value)
	require.Equal(t, int(f.sessCfg.AccessTokenTTL/time.Second), access.MaxAge)

	require.True(t, f.auditor.has("auth.login.success"))
}

func TestLogin_NoEnumeration(t *testing.T) {
	f := newFixture(t)

	unknown := f.login(t, "nobody", testPassword)
	wrong := f.login(t, "navid", "definitely wrong")
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, unknown.Body.String(), wrong.Body.String())
	require.Equal(t, "invalid_credentials", errorCode(t, wrong))
	require.Nil(t, cookieNamed(wrong, DefaultRefreshCookieName))
}

func TestLogin_LockoutReportsAccountLocked(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		rr := f.login(t, "navid", "definitely wrong")
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := f.login(t, "navid", testPassword)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "account_locked", errorCode(t, rr))
}

func TestLogin_BadRequests(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/login", map[string]any{"identifier": "navid"}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", errorCode(t, rr))

	rr = f.do(t, http.MethodPost, "/auth/login", map[string]any{"identifier": "navid", "password": "x", "extra": 1}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_json", errorCode(t, rr))
}

func TestLogin_RateLimited(t *testing.T) {
	lim := ratelimit.NewMemoryLimiter(ratelimit.Config{Max: 2, Window: time.Hour})
	f := newFixture(t, WithLimiter(lim))

	require.Equal(t, http.StatusOK, f.login(t, "navid", testPassword).Code)
	require.Equal(t, http.StatusOK, f.login(t, "navid", testPassword).Code)

	rr := f.login(t, "navid", testPassword)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.Equal(t, "rate_limited", errorCode(t, rr))
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	f := newFixture(t)

	first := cookieNamed(f.login(t, "navid", testPassword), DefaultRefreshCookieName)
	require.NotNil(t, first)

	f.now = f.now.Add(time.Minute)
	rr := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusOK, rr.Code)
	second := cookieNamed(rr, DefaultRefreshCookieName)
	require.NotNil(t, second)
	require.NotEqual(t, first.Value, second.Value)

	rr = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(first))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "reused", errorCode(t, rr))
	cleared := cookieNamed(rr, DefaultRefreshCookieName)
	require.NotNil(t, cleared)
	require.Equal(t, -1, cleared.MaxAge)
	require.True(t, f.auditor.has("auth.refresh.reuse_detected"))

	rr = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(second))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "expired", errorCode(t, rr))
}

func TestRefresh_BodyTokenAndMissing(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/refresh", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid", errorCode(t, rr))

	rr = f.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "garbage"}, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid", errorCode(t, rr))

	refresh := cookieNamed(f.login(t, "navid", testPassword), DefaultRefreshCookieName)
	rr = f.do(t, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refresh.Value}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestLogout_RevokesRefresh(t *testing.T) {
	f := newFixture(t)

	refresh := cookieNamed(f.login(t, "navid", testPassword), DefaultRefreshCookieName)

	rr := f.do(t, http.MethodPost, "/auth/logout", nil, withCookie(refresh))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, -1, cookieNamed(rr, DefaultRefreshCookieName).MaxAge)
	require.Equal(t, -1, cookieNamed(rr, DefaultAccessCookieName).MaxAge)

	rr = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(refresh))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "expired", errorCode(t, rr))

	// Logging out without a cookie is still fine.
	rr = f.do(t, http.MethodPost, "/auth/logout", nil, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestMeAndLogoutAll(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/auth/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", errorCode(t, rr))

	loginRR := f.login(t, "navid", testPassword)
	var sess sessionResponse
	require.NoError(t, json.Unmarshal(loginRR.Body.Bytes(), &sess))
	refresh := cookieNamed(loginRR, DefaultRefreshCookieName)

	rr = f.do(t, http.MethodGet, "/auth/me", nil, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusOK, rr.Code)
	var me meResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, "navid", me.Username)
	require.Equal(t, sess.User.ID, me.ID)

	// The access cookie works too.
	rr = f.do(t, http.MethodGet, "/auth/me", nil, withCookie(cookieNamed(loginRR, DefaultAccessCookieName)))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/logout_all", nil, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(refresh))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	f.now = f.now.Add(f.sessCfg.AccessTokenTTL + time.Minute)
	rr = f.do(t, http.MethodGet, "/auth/me", nil, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestPasswordChange(t *testing.T) {
	f := newFixture(t)

	var sess sessionResponse
	require.NoError(t, json.Unmarshal(f.login(t, "navid", testPassword).Body.Bytes(), &sess))

	rr := f.do(t, http.MethodPost, "/auth/password/change",
		passwordChangeRequest{CurrentPassword: "wrong one", NewPassword: "another good one 1"}, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "invalid_credentials", errorCode(t, rr))

	rr = f.do(t, http.MethodPost, "/auth/password/change",
		passwordChangeRequest{CurrentPassword: testPassword, NewPassword: "short"}, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "password_too_short", errorCode(t, rr))

	rr = f.do(t, http.MethodPost, "/auth/password/change",
		passwordChangeRequest{CurrentPassword: testPassword, NewPassword: "another good one 1"}, withBearer(sess.AccessToken))
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, http.StatusOK, f.login(t, "navid", "another good one 1").Code)
}

func TestPasswordForgotAndReset(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/password/forgot", passwordForgotRequest{Identifier: "ghost"}, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Empty(t, f.notifier.msgs)

	rr = f.do(t, http.MethodPost, "/auth/password/forgot", passwordForgotRequest{Identifier: "navid@example.com"}, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.notifier.msgs, 1)
	require.NotContains(t, rr.Body.String(), f.notifier.msgs[0].Secret)
	secret := f.notifier.msgs[0].Secret

	rr = f.do(t, http.MethodPost, "/auth/password/reset", passwordResetRequest{Token: "bogus", NewPassword: "brand new pass 77"}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid", errorCode(t, rr))

	rr = f.do(t, http.MethodPost, "/auth/password/reset", passwordResetRequest{Token: secret, NewPassword: "brand new pass 77"}, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = f.do(t, http.MethodPost, "/auth/password/reset", passwordResetRequest{Token: secret, NewPassword: "brand new pass 78"}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "used", errorCode(t, rr))

	require.Equal(t, http.StatusOK, f.login(t, "navid", "brand new pass 77").Code)
}

func TestPasswordReset_Expired(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/auth/password/forgot", passwordForgotRequest{Identifier: "navid"}, nil)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, f.notifier.msgs, 1)

	f.now = f.now.Add(reset.DefaultResetTTL + time.Second)
	rr = f.do(t, http.MethodPost, "/auth/password/reset",
		passwordResetRequest{Token: f.notifier.msgs[0].Secret, NewPassword: "too late for this"}, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "expired", errorCode(t, rr))
}
