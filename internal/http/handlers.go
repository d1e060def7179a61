package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/smarthost-reservations/internal/availability"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/robertarktes/smarthost-reservations/internal/payment"
	"github.com/robertarktes/smarthost-reservations/internal/reservation"
	"github.com/shopspring/decimal"
)

const (
	maxBodyBytes    = 1 << 20
	maxWebhookBytes = 64 << 10
	readyTimeout    = 3 * time.Second
)

type Reservations interface {
	CreateReservation(ctx context.Context, in reservation.CreateInput) (*reservation.CreateResult, error)
	CancelWithToken(ctx context.Context, id int64, token string) (bool, error)
	GetReservation(ctx context.Context, id int64) (*domain.Reservation, error)
}

type Webhooks interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (payment.Outcome, error)
}

// ReadyCheck reports whether a dependency can serve traffic.
type ReadyCheck func(ctx context.Context) error

type Handlers struct {
	reservations Reservations
	webhooks     Webhooks
	oracle       *availability.Oracle
	catalog      domain.ApartmentCatalog
	ready        map[string]ReadyCheck
	logger       observability.Logger
}

func NewHandlers(reservations Reservations, webhooks Webhooks, oracle *availability.Oracle, catalog domain.ApartmentCatalog, ready map[string]ReadyCheck, logger observability.Logger) *Handlers {
	return &Handlers{
		reservations: reservations,
		webhooks:     webhooks,
		oracle:       oracle,
		catalog:      catalog,
		ready:        ready,
		logger:       logger,
	}
}

type guestPayload struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	Country   string `json:"country"`
}

type createReservationRequest struct {
	ApartmentID    int64           `json:"apartmentId"`
	CheckIn        string          `json:"checkIn"`
	CheckOut       string          `json:"checkOut"`
	Guests         int             `json:"guests"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	SpecialRequest string          `json:"specialRequest"`
	Guest          guestPayload    `json:"guest"`
}

type reservationView struct {
	ID             int64     `json:"id"`
	ApartmentID    int64     `json:"apartmentId"`
	CheckIn        string    `json:"checkIn"`
	CheckOut       string    `json:"checkOut"`
	Guests         int       `json:"guests"`
	TotalPrice     string    `json:"totalPrice"`
	Status         string    `json:"status"`
	SpecialRequest string    `json:"specialRequest,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	// Only returned to the creator.
	AccessCode        string `json:"accessCode,omitempty"`
	CancellationToken string `json:"cancellationToken,omitempty"`
}

func publicView(r domain.Reservation) reservationView {
	return reservationView{
		ID:             r.ID,
		ApartmentID:    r.ApartmentID,
		CheckIn:        r.CheckIn.Format(domain.DateLayout),
		CheckOut:       r.CheckOut.Format(domain.DateLayout),
		Guests:         r.Guests,
		TotalPrice:     r.TotalPrice.StringFixed(2),
		Status:         string(r.Status),
		SpecialRequest: r.SpecialRequest,
		CreatedAt:      r.CreatedAt,
	}
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rng, err := domain.ParseDateRange(req.CheckIn, req.CheckOut)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.reservations.CreateReservation(r.Context(), reservation.CreateInput{
		ApartmentID:    req.ApartmentID,
		CheckIn:        rng.CheckIn,
		CheckOut:       rng.CheckOut,
		Guests:         req.Guests,
		TotalPrice:     req.TotalPrice,
		SpecialRequest: req.SpecialRequest,
		Guest: domain.GuestInformation{
			FirstName: req.Guest.FirstName,
			LastName:  req.Guest.LastName,
			Email:     req.Guest.Email,
			Phone:     req.Guest.Phone,
			Address:   req.Guest.Address,
			City:      req.Guest.City,
			Country:   req.Guest.Country,
		},
		ClientID: ClientIDFrom(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	view := publicView(res.Reservation)
	view.AccessCode = res.Reservation.AccessCode
	view.CancellationToken = res.Reservation.CancellationToken
	body := map[string]interface{}{
		"reservation": view,
		"checkoutUrl": res.CheckoutURL,
	}
	if res.CheckoutError != nil {
		body["checkoutError"] = "payment session could not be created; retry later or cancel the reservation"
	}
	writeJSON(w, http.StatusCreated, body)
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.reservations.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publicView(*res))
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.reservations.CancelWithToken(r.Context(), id, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "cancelled": cancelled})
}

func (h *Handlers) CheckoutWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r, maxWebhookBytes)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		// Not a signature failure: the provider must be free to retry.
		observability.LoggerFrom(r.Context(), observability.NopLogger()).
			WithField("limit", tooLarge.Limit).Warn("webhook payload too large")
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
		return
	}
	if err != nil {
		writeError(w, r, errors.Wrap(domain.ErrInvalidSignature, "unreadable payload"))
		return
	}
	outcome, err := h.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
}

func (h *Handlers) ApartmentAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	rng, err := domain.ParseDateRange(q.Get("checkIn"), q.Get("checkOut"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := h.catalog.GetApartment(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	available, err := h.oracle.IsAvailable(r.Context(), id, rng, availability.ModePublic)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"apartmentId": id, "available": available})
}

type apartmentView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	MaxGuests int    `json:"maxGuests"`
	BasePrice string `json:"basePrice"`
}

func (h *Handlers) AvailableApartments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := domain.ParseDateRange(q.Get("checkIn"), q.Get("checkOut"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	guests := 0
	if raw := q.Get("guests"); raw != "" {
		guests, err = strconv.Atoi(raw)
		if err != nil || guests < 0 {
			ie := domain.NewInputError()
			ie.Add("guests", "must be a non-negative integer")
			writeError(w, r, ie)
			return
		}
	}

	candidates, err := h.catalog.ListApartments(r.Context(), guests)
	if err != nil {
		writeError(w, r, err)
		return
	}
	free, err := h.oracle.FilterAvailable(r.Context(), candidates, availability.Filter{Range: rng, Guests: guests}, availability.ModePublic)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]apartmentView, 0, len(free))
	for _, a := range free {
		out = append(out, apartmentView{ID: a.ID, Name: a.Name, MaxGuests: a.MaxGuests, BasePrice: a.BasePrice.StringFixed(2)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	failing := map[string]string{}
	for name, check := range h.ready {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		observability.LoggerFrom(r.Context(), h.logger).WithField("failing", failing).Warn("not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failing": failing})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
