// Package reservation admits new reservations and handles guest-initiated
// cancellation and the removal of abandoned ones.
package reservation

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/availability"
	"github.com/robertarktes/smarthost-reservations/internal/checkout"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultWriteTimeout = 15 * time.Second

var tracer = observability.Tracer("reservation")

// SessionCreator opens the hosted checkout for a committed reservation.
type SessionCreator interface {
	CreateSession(ctx context.Context, r domain.Reservation, apartmentName string) (*checkout.Session, error)
}

type CreateInput struct {
	ApartmentID int64
	CheckIn     time.Time
	CheckOut    time.Time
	Guests      int
	// TotalPrice is charged as given; zero means nights times the apartment base price.
	TotalPrice     decimal.Decimal
	SpecialRequest string
	Guest          domain.GuestInformation
	// ClientID is nil for guest bookings.
	ClientID *int64
}

type CreateResult struct {
	Reservation domain.Reservation
	CheckoutURL string
	// CheckoutError is set when the reservation was stored but no checkout
	// session could be opened. The reservation stays PENDING.
	CheckoutError error
}

type Coordinator struct {
	store        domain.Store
	catalog      domain.ApartmentCatalog
	sessions     SessionCreator
	auditor      domain.Auditor
	logger       observability.Logger
	now          func() time.Time
	writeTimeout time.Duration
}

type Option func(*Coordinator)

func WithAuditor(a domain.Auditor) Option {
	return func(c *Coordinator) { c.auditor = a }
}

func WithLogger(l observability.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

func NewCoordinator(store domain.Store, catalog domain.ApartmentCatalog, sessions SessionCreator, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:        store,
		catalog:      catalog,
		sessions:     sessions,
		auditor:      nopAuditor{},
		logger:       observability.NopLogger(),
		now:          time.Now,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) CreateReservation(ctx context.Context, in CreateInput) (*CreateResult, error) {
	ctx, span := tracer.Start(ctx, "reservation.create")
	defer span.End()
	span.SetAttributes(attribute.Int64("apartment.id", in.ApartmentID), attribute.Int("guests", in.Guests))

	res, err := c.create(ctx, in)
	result := createResultLabel(res, err)
	observability.ReservationsCreated.WithLabelValues(result).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("reservation.id", res.Reservation.ID))
	return res, nil
}

func (c *Coordinator) create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	log := observability.LoggerFrom(ctx, c.logger)
	now := c.now()

	rng, err := domain.NewDateRange(in.CheckIn, in.CheckOut)
	if err != nil {
		return nil, err
	}
	if err := availability.ValidateRange(rng, availability.ModePublic, now); err != nil {
		return nil, err
	}
	if ie := validateInput(in); !ie.Empty() {
		return nil, ie
	}

	apt, err := c.catalog.GetApartment(ctx, in.ApartmentID)
	if err != nil {
		return nil, domain.Persistence(err, "resolve apartment")
	}
	if in.Guests > apt.MaxGuests {
		return nil, errors.Wrapf(domain.ErrCapacityExceeded, "apartment %d hosts at most %d guests", apt.ID, apt.MaxGuests)
	}

	price := in.TotalPrice
	if price.IsZero() {
		price = apt.BasePrice.Mul(decimal.NewFromInt(int64(rng.Nights())))
	}
	token, err := domain.NewCancellationToken()
	if err != nil {
		return nil, errors.Wrap(err, "generate cancellation token")
	}

	draft := domain.Reservation{
		ApartmentID:       apt.ID,
		ClientID:          in.ClientID,
		CheckIn:           rng.CheckIn,
		CheckOut:          rng.CheckOut,
		Guests:            in.Guests,
		TotalPrice:        price.Round(2),
		Status:            domain.StatusPending,
		AccessCode:        domain.NewAccessCode(),
		CancellationToken: token,
		SpecialRequest:    strings.TrimSpace(in.SpecialRequest),
		Guest:             in.Guest,
	}

	// A client disconnect must not abort the write halfway.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
	defer cancel()

	var created domain.Reservation
	err = c.store.Atomically(writeCtx, func(ctx context.Context, tx domain.Tx) error {
		candidate := draft
		if err := tx.LockApartment(ctx, candidate.ApartmentID); err != nil {
			return err
		}
		free, err := availability.Check(ctx, tx, candidate.ApartmentID, rng)
		if err != nil {
			return err
		}
		if !free {
			return errors.Wrapf(domain.ErrSlotUnavailable, "apartment %d from %s to %s",
				candidate.ApartmentID, rng.CheckIn.Format(domain.DateLayout), rng.CheckOut.Format(domain.DateLayout))
		}
		if err := tx.InsertReservation(ctx, &candidate); err != nil {
			return err
		}
		ev, err := domain.NewReservationEvent(domain.EventReservationCreated, candidate, now)
		if err != nil {
			return err
		}
		if err := tx.InsertOutbox(ctx, ev); err != nil {
			return err
		}
		created = candidate
		return nil
	})
	if err != nil {
		return nil, domain.Persistence(err, "store reservation")
	}

	log = log.WithField("reservation_id", created.ID)
	log.Info("reservation created")
	c.auditor.Record(ctx, "reservation.created", created.ID, map[string]interface{}{
		"apartment_id": created.ApartmentID,
		"check_in":     created.CheckIn.Format(domain.DateLayout),
		"check_out":    created.CheckOut.Format(domain.DateLayout),
		"guests":       created.Guests,
		"total_price":  created.TotalPrice.StringFixed(2),
	})

	res := &CreateResult{Reservation: created}
	if c.sessions == nil {
		res.CheckoutError = errors.New("checkout is not configured")
		return res, nil
	}
	session, err := c.sessions.CreateSession(context.WithoutCancel(ctx), created, apt.Name)
	if err != nil {
		log.WithError(err).Warn("checkout session not created; reservation left pending")
		c.auditor.Record(ctx, "checkout.session_failed", created.ID, map[string]interface{}{"error": err.Error()})
		res.CheckoutError = err
		return res, nil
	}
	res.CheckoutURL = session.URL
	return res, nil
}

func validateInput(in CreateInput) *domain.InputError {
	ie := domain.NewInputError()
	if in.Guests <= 0 {
		ie.Add("guests", "must be positive")
	}
	if in.TotalPrice.IsNegative() {
		ie.Add("totalPrice", "must not be negative")
	}
	if strings.TrimSpace(in.Guest.FirstName) == "" {
		ie.Add("guest.firstName", "is required")
	}
	if strings.TrimSpace(in.Guest.LastName) == "" {
		ie.Add("guest.lastName", "is required")
	}
	if _, err := mail.ParseAddress(in.Guest.Email); err != nil {
		ie.Add("guest.email", "must be a valid e-mail address")
	}
	return ie
}

func createResultLabel(res *CreateResult, err error) string {
	switch {
	case err == nil && res.CheckoutError != nil:
		return "created_without_checkout"
	case err == nil:
		return "created"
	case errors.Is(err, domain.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	default:
		return "rejected"
	}
}

// CancelWithToken deletes a PENDING reservation for a guest presenting its
// cancellation token. A reservation that no longer exists is a successful
// no-op; cancelled reports whether anything was deleted.
func (c *Coordinator) CancelWithToken(ctx context.Context, id int64, token string) (cancelled bool, err error) {
	ctx, span := tracer.Start(ctx, "reservation.cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("reservation.id", id))

	now := c.now()
	err = c.store.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		cancelled = false
		r, err := tx.GetReservationForUpdate(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !domain.TokensEqual(r.CancellationToken, token) {
			return errors.Wrapf(domain.ErrForbidden, "reservation %d", id)
		}
		if r.Status != domain.StatusPending {
			return errors.Wrapf(domain.ErrInvalidState, "reservation %d is %s", id, r.Status)
		}
		if err := remove(ctx, tx, *r, domain.EventReservationCancelled, now); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return false, domain.Persistence(err, "cancel reservation")
	}

	log := observability.LoggerFrom(ctx, c.logger).WithField("reservation_id", id)
	if cancelled {
		log.Info("reservation cancelled by guest")
		c.auditor.Record(ctx, "reservation.cancelled", id, nil)
	} else {
		log.Debug("cancel requested for missing reservation")
	}
	return cancelled, nil
}

func (c *Coordinator) GetReservation(ctx context.Context, id int64) (*domain.Reservation, error) {
	r, err := c.store.GetReservation(ctx, id)
	if err != nil {
		return nil, domain.Persistence(err, "get reservation")
	}
	return r, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, int64, map[string]interface{}) {}
