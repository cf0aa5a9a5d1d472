package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

func TestActorMiddleware(t *testing.T) {
	var seen int64
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := ActorMiddleware(slog.New(slog.NewTextHandler(io.Discard, nil)))(next)

	cases := []struct {
		name   string
		method string
		header string
		status int
		actor  int64
	}{
		{"read without actor", http.MethodGet, "", http.StatusNoContent, 0},
		{"write with actor", http.MethodPost, "42", http.StatusNoContent, 42},
		{"write without actor", http.MethodPost, "", http.StatusUnauthorized, 0},
		{"malformed actor", http.MethodGet, "abc", http.StatusBadRequest, 0},
		{"non positive actor", http.MethodDelete, "-3", http.StatusBadRequest, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seen = 0
			req := httptest.NewRequest(tc.method, "/", nil)
			if tc.header != "" {
				req.Header.Set(shared.ActorHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
			require.Equal(t, tc.actor, seen)
		})
	}
}

func TestMiddlewareStackSecureHeaders(t *testing.T) {
	r := NewRouter(RouterParams{Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Config: &Config{RateLimitPerMinute: 5}})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
