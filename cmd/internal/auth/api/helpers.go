package authapi

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"warden/cmd/identity"
	"warden/cmd/internal/auth/login"
	"warden/cmd/internal/auth/reset"
	"warden/cmd/internal/auth/session"
	"warden/cmd/security/password"
)

type clientInfo struct {
	ip net.IP
	ua string
}

func (h *Handler) client(r *http.Request) clientInfo {
	return clientInfo{ip: clientIP(r, h.cfg.TrustProxy), ua: strings.TrimSpace(r.UserAgent())}
}

func (c clientInfo) meta() session.ClientMeta {
	return session.ClientMeta{UserAgent: c.ua, IP: c.ip}
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		Role:              string(u.Role),
		MustResetPassword: u.MustResetPassword,
		LastLoginAt:       u.LastLoginAt,
		CreatedAt:         u.CreatedAt,
	}
}

func toSessionResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		AccessToken:     issued.AccessToken,
		AccessExpiresAt: issued.AccessExp,
		User:            toUserResponse(issued.User),
	}
}

// writeAuthError maps domain errors to the client taxonomy. Anything
// unrecognized is a 500 with no detail.
func (h *Handler) writeAuthError(w http.ResponseWriter, op string, err error) {
	var (
		se *identity.StatusError
		re *session.RotationError
	)
	switch {
	case errors.Is(err, login.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.As(err, &se):
		writeError(w, http.StatusForbidden, se.Code(), "account may not sign in")
	case errors.As(err, &re):
		writeError(w, http.StatusUnauthorized, re.Code(), "refresh token not accepted")
	case errors.Is(err, reset.ErrInvalid), errors.Is(err, reset.ErrUsed), errors.Is(err, reset.ErrExpired):
		writeError(w, http.StatusBadRequest, reset.Outcome(err), "reset token not accepted")
	case errors.Is(err, password.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_too_short", "password is too short")
	case errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password_too_long", "password is too long")
	case errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "weak_password", "password is too weak")
	case errors.Is(err, password.ErrEmptyPassword),
		errors.Is(err, login.ErrInvalidInput),
		errors.Is(err, reset.ErrInvalidInput),
		identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	default:
		h.log.Error(op+".fail", "err", err)
		writeServerError(w)
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
