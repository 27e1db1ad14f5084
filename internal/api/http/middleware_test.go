package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	httpapi "github.com/memento-engine/memengine/internal/api/http"
	"github.com/memento-engine/memengine/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthAllowsEverythingWhenNoTokenConfigured(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{APIToken: ""}}
	handler := httpapi.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsMissingOrWrongBearerToken(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{APIToken: "secret-key"}}
	handler := httpapi.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthAcceptsMatchingBearerToken(t *testing.T) {
	cfg := &config.Config{Security: config.SecurityConfig{APIToken: "secret-key"}}
	handler := httpapi.RequireAuth(okHandler(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/memories", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewareRejectsOnceBurstIsSpent(t *testing.T) {
	rl := httpapi.NewRateLimiter(0.001, 1)
	handler := httpapi.RateLimitMiddleware(okHandler(), rl)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
