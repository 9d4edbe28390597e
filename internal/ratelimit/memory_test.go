package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryLimiterBurst(t *testing.T) {
	m := NewMemoryLimiter(1, 3)
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := m.Allow(ctx, "party:a")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst should pass", i)
	}

	ok, err := m.Allow(ctx, "party:a")
	require.NoError(t, err)
	assert.False(t, ok, "request beyond burst should be limited")
}

func TestMemoryLimiterIndependentKeys(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	ctx := context.Background()
	ok, _ := m.Allow(ctx, "party:a")
	assert.True(t, ok)
	ok, _ = m.Allow(ctx, "party:a")
	assert.False(t, ok)

	// A different key has its own bucket.
	ok, _ = m.Allow(ctx, "party:b")
	assert.True(t, ok)
}

func TestMemoryLimiterEviction(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	defer m.Close()

	ctx := context.Background()
	_, _ = m.Allow(ctx, "party:stale")

	m.mu.Lock()
	m.buckets["party:stale"].lastAccess = m.buckets["party:stale"].lastAccess.Add(-2 * staleThreshold)
	m.mu.Unlock()

	m.evictStale()

	m.mu.Lock()
	_, exists := m.buckets["party:stale"]
	m.mu.Unlock()
	assert.False(t, exists)
}

func TestMiddlewareLimits(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer m.Close()

	handler := Middleware(m, testLogger(), IPKeyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/contracts", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestMiddlewareSkipsEmptyKey(t *testing.T) {
	m := NewMemoryLimiter(0.001, 1)
	defer m.Close()

	keyFunc := func(*http.Request) string { return "" }
	handler := Middleware(m, testLogger(), keyFunc, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.5:1234"
	assert.Equal(t, "192.168.1.5", IPKeyFunc(req))
}
