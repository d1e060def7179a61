package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	resp   map[string]redisadapter.IdempResponse
	claims map[string]bool
}

func newMemStore() *memStore {
	return &memStore{resp: make(map[string]redisadapter.IdempResponse), claims: make(map[string]bool)}
}

func (m *memStore) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resp[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memStore) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp[key] = resp
	return nil
}

func (m *memStore) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] {
		return false, nil
	}
	m.claims[key] = true
	return true, nil
}

func (m *memStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	return nil
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	calls := 0
	h := NewIdempotency(newMemStore(), time.Hour, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))

	send := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{}`))
		if key != "" {
			req.Header.Set(HeaderKey, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("abc")
	require.Equal(t, http.StatusCreated, first.Code)
	second := send("abc")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"id":1}`, second.Body.String())
	assert.Equal(t, "true", second.Header().Get(HeaderReplayed))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls)

	send("")
	send("")
	assert.Equal(t, 3, calls, "requests without a key are not deduplicated")
}

func TestMiddlewareDoesNotStoreServerErrors(t *testing.T) {
	calls := 0
	h := NewIdempotency(newMemStore(), time.Hour, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/reservations", nil)
		req.Header.Set(HeaderKey, "k")
		h.ServeHTTP(httptest.NewRecorder(), req)
	}
	assert.Equal(t, 2, calls)
}

func TestMiddlewareRejectsKeyInFlight(t *testing.T) {
	store := newMemStore()
	_, _ = store.Claim(context.Background(), "POST:/reservations:busy", time.Minute)
	h := NewIdempotency(store, time.Hour, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/reservations", nil)
	req.Header.Set(HeaderKey, "busy")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// lateStore hides stored responses from the first lookup, as if the
// response was written just after it.
type lateStore struct {
	*memStore
	gets int
}

func (l *lateStore) Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error) {
	l.gets++
	if l.gets == 1 {
		return nil, nil
	}
	return l.memStore.Get(ctx, key)
}

func TestMiddlewareReplaysResponseStoredBeforeClaim(t *testing.T) {
	store := &lateStore{memStore: newMemStore()}
	require.NoError(t, store.Set(context.Background(), "POST:/reservations:late", redisadapter.IdempResponse{
		Status:      http.StatusCreated,
		ContentType: "application/json",
		Result:      []byte(`{"id":7}`),
	}, time.Hour))
	h := NewIdempotency(store, time.Hour, nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodPost, "/reservations", nil)
	req.Header.Set(HeaderKey, "late")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"id":7}`, rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get(HeaderReplayed))
	assert.Equal(t, 2, store.gets)
	assert.Empty(t, store.claims, "claim released")
}
