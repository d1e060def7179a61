package checkout

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
)

// MetadataReservationID is the session metadata key carrying the reservation id.
const MetadataReservationID = "reservationId"

const (
	PaymentStatusPaid              = string(stripe.CheckoutSessionPaymentStatusPaid)
	PaymentStatusNoPaymentRequired = string(stripe.CheckoutSessionPaymentStatusNoPaymentRequired)
)

var ErrProvider = errors.New("checkout provider failure")

type Config struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	SessionTTL time.Duration
	Timeout    time.Duration
}

type Session struct {
	ID              string
	URL             string
	PaymentStatus   string
	PaymentIntentID string
	Metadata        map[string]string
	ExpiresAt       time.Time
}

// Settled reports whether the session allows the reservation to be confirmed.
func (s Session) Settled() bool {
	return s.PaymentStatus == PaymentStatusPaid || s.PaymentStatus == PaymentStatusNoPaymentRequired
}

// ReservationID parses the reservation id from the session metadata.
func (s Session) ReservationID() (int64, error) {
	raw, ok := s.Metadata[MetadataReservationID]
	if !ok || raw == "" {
		return 0, errors.Wrapf(domain.ErrMissingMetadata, "session %s", s.ID)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrapf(domain.ErrMissingMetadata, "session %s: reservation id %q", s.ID, raw)
	}
	return id, nil
}

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Gateway creates and reads hosted checkout sessions.
type Gateway struct {
	api sessionAPI
	cfg Config
	now func() time.Time
}

func NewGateway(cfg Config) *Gateway {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripe.Int64(2),
	})
	return newGateway(&session.Client{B: backend, Key: cfg.SecretKey}, cfg, time.Now)
}

func newGateway(api sessionAPI, cfg Config, now func() time.Time) *Gateway {
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	return &Gateway{api: api, cfg: cfg, now: now}
}

// CreateSession opens a single-item payment session for r.
func (g *Gateway) CreateSession(ctx context.Context, r domain.Reservation, apartmentName string) (*Session, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	id := strconv.FormatInt(r.ID, 10)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(g.cfg.Currency)),
				UnitAmount: stripe.Int64(Cents(r)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Reservation: " + apartmentName),
					Description: stripe.String(fmt.Sprintf("Check-in: %s, Check-out: %s, Guests: %d",
						r.CheckIn.Format(domain.DateLayout), r.CheckOut.Format(domain.DateLayout), r.Guests)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(withQuery(g.cfg.SuccessURL, "session_id={CHECKOUT_SESSION_ID}&reservation_id="+id)),
		CancelURL:  stripe.String(withQuery(g.cfg.CancelURL, "reservation_id="+id+"&token="+r.CancellationToken)),
		ExpiresAt:  stripe.Int64(g.now().Add(g.cfg.SessionTTL).Unix()),
	}
	if r.Guest.Email != "" {
		params.CustomerEmail = stripe.String(r.Guest.Email)
	}
	params.AddMetadata(MetadataReservationID, id)
	params.Context = ctx

	s, err := g.api.New(params)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "create checkout session for reservation %d", r.ID), ErrProvider)
	}
	return fromStripe(s), nil
}

func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.Get(sessionID, params)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "retrieve checkout session %s", sessionID), ErrProvider)
	}
	return fromStripe(s), nil
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

// Cents converts the reservation total to the provider's minor unit.
func Cents(r domain.Reservation) int64 {
	return r.TotalPrice.Shift(2).Round(0).IntPart()
}

func withQuery(base, query string) string {
	if strings.Contains(base, "?") {
		return base + "&" + query
	}
	return base + "?" + query
}

func fromStripe(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:            s.ID,
		URL:           s.URL,
		PaymentStatus: string(s.PaymentStatus),
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out
}
