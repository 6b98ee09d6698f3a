package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	t.Parallel()

	require.Equal(t, "1xx", statusClass(101))
	require.Equal(t, "2xx", statusClass(204))
	require.Equal(t, "3xx", statusClass(302))
	require.Equal(t, "4xx", statusClass(429))
	require.Equal(t, "5xx", statusClass(503))
}

func TestRequestLogLevel(t *testing.T) {
	t.Parallel()

	require.Equal(t, slog.LevelError, requestLogLevel("/auth/login", 500))
	require.Equal(t, slog.LevelWarn, requestLogLevel("/auth/login", 401))
	require.Equal(t, slog.LevelInfo, requestLogLevel("/auth/login", 200))
	require.Equal(t, slog.LevelDebug, requestLogLevel("/healthz", 200))
	require.Equal(t, slog.LevelError, requestLogLevel("/readyz", 503))
}

func TestWithRequestLogging(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK) // ignored
		_, _ = w.Write([]byte("short and stout"))
	})
	h := middleware.RequestID(WithRequestLogging(next, log))

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "http.request", rec["msg"])
	require.Equal(t, "WARN", rec["level"])
	require.EqualValues(t, http.StatusTeapot, rec["status"])
	require.Equal(t, "4xx", rec["status_class"])
	require.EqualValues(t, len("short and stout"), rec["bytes"])
	require.Equal(t, "req-123", rec["request_id"])
}

func TestWithRequestLogging_ProbesAreQuiet(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), log)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Zero(t, buf.Len())
}
