package checkout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

type fakeSessions struct {
	created *stripe.CheckoutSessionParams
	gotID   string
	session *stripe.CheckoutSession
	err     error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessions) Get(id string, _ *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func testReservation() domain.Reservation {
	in, _ := time.Parse(domain.DateLayout, "2031-01-01")
	out, _ := time.Parse(domain.DateLayout, "2031-01-04")
	return domain.Reservation{
		ID: 17, ApartmentID: 1, CheckIn: in, CheckOut: out, Guests: 2,
		TotalPrice:        decimal.RequireFromString("300.455"),
		CancellationToken: "tok_abc-_",
		Guest:             domain.GuestInformation{Email: "guest@example.com"},
	}
}

func TestCreateSession(t *testing.T) {
	now := time.Date(2030, 12, 1, 12, 0, 0, 0, time.UTC)
	api := &fakeSessions{session: &stripe.CheckoutSession{ID: "cs_1", URL: "https://pay.example/cs_1"}}
	gw := newGateway(api, Config{
		SuccessURL: "https://smarthost.example/success",
		CancelURL:  "https://smarthost.example/cancel?lang=en",
		SessionTTL: time.Hour,
		Timeout:    time.Second,
	}, func() time.Time { return now })

	s, err := gw.CreateSession(context.Background(), testReservation(), "Seaside Loft")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_1", s.URL)

	p := api.created
	require.Len(t, p.LineItems, 1)
	item := p.LineItems[0]
	assert.Equal(t, int64(1), *item.Quantity)
	assert.Equal(t, "eur", *item.PriceData.Currency)
	assert.Equal(t, int64(30046), *item.PriceData.UnitAmount)
	assert.Equal(t, "Reservation: Seaside Loft", *item.PriceData.ProductData.Name)
	assert.Equal(t, "Check-in: 2031-01-01, Check-out: 2031-01-04, Guests: 2", *item.PriceData.ProductData.Description)
	assert.Equal(t, "17", p.Metadata[MetadataReservationID])
	assert.Equal(t, "https://smarthost.example/success?session_id={CHECKOUT_SESSION_ID}&reservation_id=17", *p.SuccessURL)
	assert.Equal(t, "https://smarthost.example/cancel?lang=en&reservation_id=17&token=tok_abc-_", *p.CancelURL)
	assert.Equal(t, "guest@example.com", *p.CustomerEmail)
	assert.Equal(t, now.Add(time.Hour).Unix(), *p.ExpiresAt)
	assert.NotNil(t, p.Context)
}

func TestCreateSessionProviderFailure(t *testing.T) {
	api := &fakeSessions{err: errors.New("card network down")}
	gw := newGateway(api, Config{SessionTTL: time.Hour}, time.Now)

	_, err := gw.CreateSession(context.Background(), testReservation(), "Loft")
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestRetrieveSession(t *testing.T) {
	api := &fakeSessions{session: &stripe.CheckoutSession{
		ID:            "cs_2",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_9"},
		Metadata:      map[string]string{MetadataReservationID: "17"},
	}}
	gw := newGateway(api, Config{}, time.Now)

	s, err := gw.RetrieveSession(context.Background(), "cs_2")
	require.NoError(t, err)
	assert.Equal(t, "cs_2", api.gotID)
	assert.True(t, s.Settled())
	assert.Equal(t, "pi_9", s.PaymentIntentID)
	id, err := s.ReservationID()
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
}

func TestSessionReservationID(t *testing.T) {
	for name, md := range map[string]map[string]string{
		"absent":   nil,
		"empty":    {MetadataReservationID: ""},
		"garbage":  {MetadataReservationID: "seventeen"},
		"negative": {MetadataReservationID: "-3"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Session{ID: "cs", Metadata: md}.ReservationID()
			assert.ErrorIs(t, err, domain.ErrMissingMetadata)
		})
	}
	assert.False(t, Session{PaymentStatus: "unpaid"}.Settled())
	assert.True(t, Session{PaymentStatus: PaymentStatusNoPaymentRequired}.Settled())
}

func sign(payload, secret string) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	}).Header
}

func TestVerifyEvent(t *testing.T) {
	const secret = "whsec_test"
	v := NewVerifier(secret)
	payload := `{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_42","object":"checkout.session"}}}`

	ev, err := v.VerifyEvent([]byte(payload), sign(payload, secret))
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "evt_1", Type: EventSessionCompleted, SessionID: "cs_42"}, ev)

	_, err = v.VerifyEvent([]byte(payload), sign(payload, "whsec_other"))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = v.VerifyEvent([]byte(payload), "")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	_, err = NewVerifier("").VerifyEvent([]byte(payload), sign(payload, ""))
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	other := `{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1"}}}`
	ev, err = v.VerifyEvent([]byte(other), sign(other, secret))
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.SessionID)
}

func TestVerifyEventDelayedPaymentCarriesSession(t *testing.T) {
	const secret = "whsec_test"
	v := NewVerifier(secret)
	for _, typ := range []string{EventSessionAsyncPaymentSucceeded, EventSessionAsyncPaymentFailed} {
		payload := fmt.Sprintf(`{"id":"evt_async","object":"event","type":%q,"data":{"object":{"id":"cs_7","object":"checkout.session"}}}`, typ)
		ev, err := v.VerifyEvent([]byte(payload), sign(payload, secret))
		require.NoError(t, err, typ)
		assert.Equal(t, "cs_7", ev.SessionID, typ)
	}
}
