package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duck-sandbox/internal/domain"
)

type caller struct {
	addr      string
	principal string
}

func (c caller) hit(h http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/dataset", nil)
	req.RemoteAddr = c.addr
	if c.principal != "" {
		req = req.WithContext(domain.WithPrincipal(req.Context(),
			domain.ContextPrincipal{ID: c.principal, Name: c.principal, Type: "user"}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func limited(t *testing.T, rps float64, burst int) http.Handler {
	t.Helper()
	return NewRateLimiter(t.Context(), RateLimitConfig{RequestsPerSecond: rps, Burst: burst}).
		Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	h := limited(t, 0.5, 3)
	c := caller{addr: "10.1.0.7:4000"}

	for i := range 3 {
		rec := c.hit(h)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := c.hit(h)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"status":"failed","error":"rate limit exceeded","error_type":"rate-limited"}`, rec.Body.String())
}

func TestRateLimiter_Buckets(t *testing.T) {
	h := limited(t, 0.1, 1)
	natA := caller{addr: "192.0.2.10:1111", principal: "analyst"}
	natB := caller{addr: "192.0.2.10:2222", principal: "sandboxed"}
	anon := caller{addr: "192.0.2.10:3333"}
	other := caller{addr: "198.51.100.4:1111"}

	require.Equal(t, http.StatusOK, natA.hit(h).Code)
	assert.Equal(t, http.StatusTooManyRequests, natA.hit(h).Code)

	// A different principal behind the same address has its own budget.
	assert.Equal(t, http.StatusOK, natB.hit(h).Code)

	// Unauthenticated callers are bucketed by IP, ignoring the port.
	assert.Equal(t, http.StatusOK, anon.hit(h).Code)
	assert.Equal(t, http.StatusTooManyRequests, caller{addr: "192.0.2.10:4444"}.hit(h).Code)
	assert.Equal(t, http.StatusOK, other.hit(h).Code)
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:8443"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "ip:2001:db8::1", callerKey(req), "X-Forwarded-For is not trusted")

	req.RemoteAddr = "10.0.0.1"
	assert.Equal(t, "ip:10.0.0.1", callerKey(req))

	req = req.WithContext(domain.WithPrincipal(req.Context(), domain.ContextPrincipal{ID: "u-9"}))
	assert.Equal(t, "principal:u-9", callerKey(req))

	// Principals without an ID fall back to the address.
	req = req.WithContext(domain.WithPrincipal(context.Background(), domain.ContextPrincipal{Name: "anon"}))
	assert.Equal(t, "ip:10.0.0.1", callerKey(req))
}

func TestRateLimiter_SweepStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rl := NewRateLimiter(ctx, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	cancel()

	rec := caller{addr: "127.0.0.1:1"}.hit(rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
