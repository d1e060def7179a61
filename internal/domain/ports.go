package domain

import (
	"context"
	"time"
)

// OverlapQuerier answers the blocking-overlap question. Both Store and Tx
// implement it so the same check runs inside and outside a transaction.
type OverlapQuerier interface {
	HasOverlap(ctx context.Context, apartmentID int64, rng DateRange) (bool, error)
}

// Tx is the set of writes available inside Store.Atomically.
type Tx interface {
	OverlapQuerier

	// LockApartment serializes every transaction that touches the apartment's calendar.
	LockApartment(ctx context.Context, apartmentID int64) error
	InsertReservation(ctx context.Context, r *Reservation) error
	// GetReservationForUpdate returns ErrNotFound when the reservation does not exist.
	GetReservationForUpdate(ctx context.Context, id int64) (*Reservation, error)
	SetStatus(ctx context.Context, id int64, status ReservationStatus) error
	HasPaidPayment(ctx context.Context, reservationID int64) (bool, error)
	InsertPayment(ctx context.Context, p *Payment) error
	// DeleteReservation removes payments, guest information and the reservation row.
	DeleteReservation(ctx context.Context, id int64) error
	InsertOutbox(ctx context.Context, ev OutboxEvent) error
}

type Store interface {
	OverlapQuerier

	// Atomically runs fn in one serializable unit. fn may be invoked more than
	// once when the backend retries a serialization conflict.
	Atomically(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetReservation(ctx context.Context, id int64) (*Reservation, error)
	OverlappingApartments(ctx context.Context, apartmentIDs []int64, rng DateRange) (map[int64]bool, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error)
}

type ApartmentCatalog interface {
	GetApartment(ctx context.Context, id int64) (*Apartment, error)
	ListApartments(ctx context.Context, minGuests int) ([]Apartment, error)
}

type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, r Reservation) error
}

// Auditor records operator-facing events. Implementations log their own failures.
type Auditor interface {
	Record(ctx context.Context, action string, reservationID int64, data map[string]interface{})
}
