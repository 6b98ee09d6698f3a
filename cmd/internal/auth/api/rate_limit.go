package authapi

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// throttle consults the limiter for route and client. Limiter errors fail
// open: throttling is advisory and must not take login down with it.
func (h *Handler) throttle(ctx context.Context, route string, cm clientInfo) (bool, time.Duration) {
	if h.limiter == nil || cm.ip == nil {
		return true, 0
	}
	res, err := h.limiter.Allow(ctx, route+":ip:"+cm.ip.String())
	if err != nil {
		h.log.Error("auth.ratelimit.fail", "route", route, "err", err)
		return true, 0
	}
	if !res.Allowed {
		h.metrics.RateLimited(route)
		return false, res.RetryAfter
	}
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int64(retryAfter / time.Second)
	if retryAfter%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
