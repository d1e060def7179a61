// Package idempotency replays the stored response for a repeated
// Idempotency-Key so a retried POST cannot create a second reservation.
package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/smarthost-reservations/internal/adapters/redis"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
	maxKeyLength   = 255
	claimTTL       = time.Minute
)

// Store persists responses. The Redis adapter implements it.
type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	store  Store
	ttl    time.Duration
	logger observability.Logger
}

func NewIdempotency(store Store, ttl time.Duration, logger observability.Logger) *Idempotency {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Idempotency{store: store, ttl: ttl, logger: logger}
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.store.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Body: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.store.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Body,
	}, i.ttl)
}

// Middleware stores the first non-5xx response per key and replays it for
// later requests carrying the same key. Requests without the header pass
// through untouched. A key still in flight is answered with 409.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(HeaderKey)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		if len(raw) > maxKeyLength {
			http.Error(w, "Idempotency-Key too long", http.StatusBadRequest)
			return
		}
		ctx := r.Context()
		log := observability.LoggerFrom(ctx, i.logger)
		key := r.Method + ":" + r.URL.Path + ":" + raw

		if stored, err := i.Get(ctx, key); err != nil {
			log.WithError(err).Warn("idempotency store unavailable")
			next.ServeHTTP(w, r)
			return
		} else if stored != nil {
			replay(w, stored)
			return
		}

		claimed, err := i.store.Claim(ctx, key, claimTTL)
		if err != nil {
			log.WithError(err).Warn("idempotency store unavailable")
			next.ServeHTTP(w, r)
			return
		}
		if !claimed {
			http.Error(w, "request with this Idempotency-Key is in progress", http.StatusConflict)
			return
		}
		defer func() {
			if err := i.store.Release(context.WithoutCancel(ctx), key); err != nil {
				log.WithError(err).Warn("failed to release idempotency key")
			}
		}()

		// The previous holder may have stored its response and released the
		// claim between our first lookup and Claim.
		if stored, err := i.Get(ctx, key); err != nil {
			log.WithError(err).Warn("idempotency store unavailable")
		} else if stored != nil {
			replay(w, stored)
			return
		}

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.status >= http.StatusInternalServerError {
			return
		}
		err = i.Set(context.WithoutCancel(ctx), key, Response{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Body:        rec.body.Bytes(),
		})
		if err != nil {
			log.WithError(err).Warn("failed to store idempotent response")
		}
	})
}

func replay(w http.ResponseWriter, resp *Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
