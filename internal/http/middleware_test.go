package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/ratelimit"
	"github.com/stretchr/testify/assert"
)

type windowCounter struct {
	mu   sync.Mutex
	hits map[string]int64
}

func (c *windowCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hits == nil {
		c.hits = make(map[string]int64)
	}
	c.hits[key]++
	return c.hits[key], nil
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := ratelimit.NewRateLimiter(&windowCounter{}, 2, time.Minute, observability.NopLogger())
	h := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/reservations/1", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodGet, "/reservations/1", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code, "budgets are per client address")
}

func TestClientIdentityMiddleware(t *testing.T) {
	var got *int64
	h := ClientIdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIDFrom(r.Context())
	}))

	for _, tt := range []struct {
		header string
		want   *int64
	}{
		{"", nil},
		{"abc", nil},
		{"42", func() *int64 { v := int64(42); return &v }()},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set(HeaderClientID, tt.header)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, tt.want, got, "header %q", tt.header)
	}
}
