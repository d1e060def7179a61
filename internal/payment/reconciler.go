// Package payment reconciles checkout webhooks with reservation state.
// Every transition is idempotent: redelivered or reordered events leave the
// store unchanged.
package payment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/checkout"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/reservation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeExpired   Outcome = "expired"
	OutcomeFailed    Outcome = "payment_failed"
	OutcomeNoop      Outcome = "noop"
	OutcomeIgnored   Outcome = "ignored"
)

const notifyTimeout = 5 * time.Second

var tracer = observability.Tracer("payment")

type EventVerifier interface {
	VerifyEvent(payload []byte, header string) (checkout.Event, error)
}

type SessionRetriever interface {
	RetrieveSession(ctx context.Context, sessionID string) (*checkout.Session, error)
}

// EventLog remembers processed event ids so redeliveries skip the provider
// round trip. Correctness never depends on it.
type EventLog interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

type Reconciler struct {
	store    domain.Store
	verifier EventVerifier
	sessions SessionRetriever
	notifier domain.Notifier
	auditor  domain.Auditor
	events   EventLog
	logger   observability.Logger
	now      func() time.Time
}

type Option func(*Reconciler)

func WithNotifier(n domain.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

func WithAuditor(a domain.Auditor) Option {
	return func(r *Reconciler) { r.auditor = a }
}

func WithEventLog(l EventLog) Option {
	return func(r *Reconciler) { r.events = l }
}

func WithLogger(l observability.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(store domain.Store, verifier EventVerifier, sessions SessionRetriever, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		verifier: verifier,
		sessions: sessions,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook verifies and applies one provider event. Errors marked
// ErrPersistence or checkout.ErrProvider are transient and the provider
// should redeliver; the others are permanent for this payload.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "payment.webhook")
	defer span.End()

	ev, err := r.verifier.VerifyEvent(payload, signatureHeader)
	if err != nil {
		observability.WebhookEvents.WithLabelValues("unverified", "invalid_signature").Inc()
		span.SetStatus(codes.Error, "invalid signature")
		return "", err
	}
	span.SetAttributes(attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))
	log := observability.LoggerFrom(ctx, r.logger).WithFields(map[string]interface{}{
		"event_id":   ev.ID,
		"event_type": ev.Type,
	})

	if r.events != nil && ev.ID != "" {
		seen, err := r.events.Seen(ctx, ev.ID)
		if err != nil {
			log.WithError(err).Warn("event log unavailable")
		} else if seen {
			observability.WebhookEvents.WithLabelValues(ev.Type, string(OutcomeDuplicate)).Inc()
			return OutcomeDuplicate, nil
		}
	}

	var outcome Outcome
	switch ev.Type {
	case checkout.EventSessionCompleted, checkout.EventSessionAsyncPaymentSucceeded:
		outcome, err = r.sessionCompleted(ctx, ev, log)
	case checkout.EventSessionExpired:
		outcome, err = r.sessionRemoved(ctx, ev, domain.EventReservationExpired, log)
	case checkout.EventSessionAsyncPaymentFailed:
		outcome, err = r.sessionRemoved(ctx, ev, domain.EventPaymentFailed, log)
	default:
		outcome = OutcomeIgnored
	}
	if err != nil {
		observability.WebhookEvents.WithLabelValues(ev.Type, errorLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, errorLabel(err))
		return "", err
	}

	observability.WebhookEvents.WithLabelValues(ev.Type, string(outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(outcome)))
	if r.events != nil && ev.ID != "" {
		if err := r.events.Remember(ctx, ev.ID); err != nil {
			log.WithError(err).Warn("failed to remember processed event")
		}
	}
	return outcome, nil
}

func (r *Reconciler) resolve(ctx context.Context, ev checkout.Event, log observability.Logger) (*checkout.Session, int64, error) {
	s, err := r.sessions.RetrieveSession(ctx, ev.SessionID)
	if err != nil {
		return nil, 0, err
	}
	id, err := s.ReservationID()
	if err != nil {
		log.WithError(err).WithField("session_id", s.ID).Error("checkout session without reservation metadata")
		r.audit(ctx, "webhook.missing_metadata", 0, map[string]interface{}{"event_id": ev.ID, "session_id": s.ID})
		return nil, 0, err
	}
	return s, id, nil
}

func (r *Reconciler) sessionCompleted(ctx context.Context, ev checkout.Event, log observability.Logger) (Outcome, error) {
	s, id, err := r.resolve(ctx, ev, log)
	if err != nil {
		return "", err
	}
	log = log.WithFields(map[string]interface{}{"reservation_id": id, "session_id": s.ID})
	if !s.Settled() {
		// Delayed methods settle through async_payment_succeeded or _failed.
		log.WithField("payment_status", s.PaymentStatus).Info("completed session awaiting payment")
		return OutcomeIgnored, nil
	}

	var (
		confirmed    *domain.Reservation
		transitioned bool
	)
	now := r.now()
	err = r.store.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		confirmed, transitioned, err = reservation.Confirm(ctx, tx, id, reservation.PaymentDetails{
			SessionID:       s.ID,
			PaymentIntentID: s.PaymentIntentID,
		}, now)
		return err
	})
	if errors.Is(err, domain.ErrReservationGone) {
		// Paid for a reservation that was already removed. Needs a human.
		log.WithError(err).Error("payment completed for missing reservation")
		r.audit(ctx, "payment.orphaned", id, map[string]interface{}{
			"event_id":          ev.ID,
			"session_id":        s.ID,
			"payment_intent_id": s.PaymentIntentID,
		})
		observability.ReportError(ctx, err)
		return "", err
	}
	if err != nil {
		return "", domain.Persistence(err, "confirm reservation")
	}
	if !transitioned {
		log.Info("reservation already confirmed")
		return OutcomeDuplicate, nil
	}

	log.Info("reservation confirmed")
	r.audit(ctx, "reservation.confirmed", id, map[string]interface{}{
		"session_id":        s.ID,
		"payment_intent_id": s.PaymentIntentID,
		"amount":            confirmed.TotalPrice.StringFixed(2),
	})
	r.notify(ctx, *confirmed, log)
	return OutcomeConfirmed, nil
}

// sessionRemoved drops a still-pending reservation whose checkout can no
// longer be paid. A confirmed or missing reservation is left alone.
func (r *Reconciler) sessionRemoved(ctx context.Context, ev checkout.Event, eventType string, log observability.Logger) (Outcome, error) {
	s, id, err := r.resolve(ctx, ev, log)
	if err != nil {
		return "", err
	}
	log = log.WithFields(map[string]interface{}{"reservation_id": id, "session_id": s.ID})

	var removed bool
	now := r.now()
	err = r.store.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		removed, err = reservation.RemoveIfPending(ctx, tx, id, eventType, now, nil)
		return err
	})
	if err != nil {
		return "", domain.Persistence(err, "remove pending reservation")
	}
	if !removed {
		return OutcomeNoop, nil
	}
	log.WithField("reason", eventType).Info("pending reservation removed after checkout event")
	r.audit(ctx, eventType, id, map[string]interface{}{"session_id": s.ID, "source": "webhook"})
	if eventType == domain.EventPaymentFailed {
		return OutcomeFailed, nil
	}
	return OutcomeExpired, nil
}

// notify runs after commit; a failed notification never changes the outcome.
func (r *Reconciler) notify(ctx context.Context, res domain.Reservation, log observability.Logger) {
	if r.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := r.notifier.NotifyBookingConfirmed(ctx, res); err != nil {
		log.WithError(err).Warn("booking confirmation notification failed")
	}
}

func (r *Reconciler) audit(ctx context.Context, action string, id int64, data map[string]interface{}) {
	if r.auditor != nil {
		r.auditor.Record(ctx, action, id, data)
	}
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingMetadata):
		return "missing_metadata"
	case errors.Is(err, domain.ErrReservationGone):
		return "reservation_gone"
	case errors.Is(err, checkout.ErrProvider):
		return "provider_error"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "error"
	}
}
