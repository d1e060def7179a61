package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthost_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	ReservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthost_reservations_created_total",
			Help: "Reservation admission attempts by result",
		},
		[]string{"result"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smarthost_webhook_events_total",
			Help: "Checkout webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smarthost_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthost_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "smarthost_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthost_rabbit_publish_failures_total",
			Help: "Total failed rabbit publishes",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthost_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	ExpiredReservationsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "smarthost_expired_reservations_swept_total",
			Help: "Stale pending reservations removed by the sweeper",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal, ReservationsCreated, WebhookEvents,
			DBTxDuration, DBTxRetries, OutboxLag,
			RabbitPublishFailures, RateLimitExceeded, ExpiredReservationsSwept,
		)
	})
}
