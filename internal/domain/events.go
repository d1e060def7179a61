package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationExpired   = "reservation.expired"
	EventPaymentFailed        = "reservation.payment_failed"
)

// OutboxEvent is written in the same transaction as the state change it describes.
type OutboxEvent struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   int64
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

type reservationEventPayload struct {
	ReservationID int64             `json:"reservation_id"`
	ApartmentID   int64             `json:"apartment_id"`
	Status        ReservationStatus `json:"status"`
	CheckIn       string            `json:"check_in"`
	CheckOut      string            `json:"check_out"`
	Guests        int               `json:"guests"`
	TotalPrice    string            `json:"total_price"`
}

func NewReservationEvent(eventType string, r Reservation, now time.Time) (OutboxEvent, error) {
	payload, err := json.Marshal(reservationEventPayload{
		ReservationID: r.ID,
		ApartmentID:   r.ApartmentID,
		Status:        r.Status,
		CheckIn:       r.CheckIn.Format(DateLayout),
		CheckOut:      r.CheckOut.Format(DateLayout),
		Guests:        r.Guests,
		TotalPrice:    r.TotalPrice.StringFixed(2),
	})
	if err != nil {
		return OutboxEvent{}, errors.Wrap(err, "marshal reservation event")
	}
	return OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "reservation",
		AggregateID:   r.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
		Status:        "NEW",
		DedupeKey:     eventType + ":" + strconv.FormatInt(r.ID, 10),
	}, nil
}
