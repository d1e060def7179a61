package http

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/smarthost-reservations/internal/idempotency"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/ratelimit"
)

// SetupRouter wires the public API. rl and idemp may be nil.
func SetupRouter(h *Handlers, logger observability.Logger, rl *ratelimit.RateLimiter, idemp *idempotency.Idempotency) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	// Provider retries are not throttled.
	r.Post("/webhooks/checkout", h.CheckoutWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl))
		r.Use(ClientIdentityMiddleware)

		create := http.Handler(http.HandlerFunc(h.CreateReservation))
		if idemp != nil {
			create = idemp.Middleware(create)
		}
		r.Method(http.MethodPost, "/reservations", create)
		r.Get("/reservations/{id}", h.GetReservation)
		r.Delete("/reservations/{id}", h.CancelReservation)

		r.Get("/apartments/available", h.AvailableApartments)
		r.Get("/apartments/{id}/availability", h.ApartmentAvailability)
	})

	return TracingMiddleware(r)
}
