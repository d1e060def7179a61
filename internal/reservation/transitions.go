package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
)

// PaymentDetails describes the settled checkout that confirms a reservation.
type PaymentDetails struct {
	SessionID       string
	PaymentIntentID string
}

// Confirm moves a PENDING reservation to CONFIRMED and records its PAID payment.
// It must run inside Store.Atomically. transitioned is false when the
// reservation was already CONFIRMED; nothing is written in that case.
func Confirm(ctx context.Context, tx domain.Tx, id int64, pay PaymentDetails, now time.Time) (r *domain.Reservation, transitioned bool, err error) {
	r, err = tx.GetReservationForUpdate(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, errors.Wrapf(domain.ErrReservationGone, "reservation %d", id)
	}
	if err != nil {
		return nil, false, err
	}

	switch r.Status {
	case domain.StatusConfirmed:
		return r, false, nil
	case domain.StatusPending:
	default:
		return r, false, errors.Wrapf(domain.ErrInvalidState, "reservation %d is %s", id, r.Status)
	}

	if err := tx.SetStatus(ctx, id, domain.StatusConfirmed); err != nil {
		return nil, false, err
	}
	r.Status = domain.StatusConfirmed

	paid, err := tx.HasPaidPayment(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !paid {
		err = tx.InsertPayment(ctx, &domain.Payment{
			ReservationID:   id,
			Amount:          r.TotalPrice,
			Provider:        domain.ProviderStripe,
			SessionID:       pay.SessionID,
			PaymentIntentID: pay.PaymentIntentID,
			Status:          domain.PaymentPaid,
		})
		if err != nil {
			return nil, false, err
		}
	}

	ev, err := domain.NewReservationEvent(domain.EventReservationConfirmed, *r, now)
	if err != nil {
		return nil, false, err
	}
	if err := tx.InsertOutbox(ctx, ev); err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// RemoveIfPending deletes the reservation and its children when it is still
// PENDING and, if given, eligible reports true for it. A missing or
// CONFIRMED reservation is left alone. It must run inside Store.Atomically.
func RemoveIfPending(ctx context.Context, tx domain.Tx, id int64, eventType string, now time.Time, eligible func(domain.Reservation) bool) (bool, error) {
	r, err := tx.GetReservationForUpdate(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if r.Status != domain.StatusPending {
		return false, nil
	}
	if eligible != nil && !eligible(*r) {
		return false, nil
	}
	return true, remove(ctx, tx, *r, eventType, now)
}

func remove(ctx context.Context, tx domain.Tx, r domain.Reservation, eventType string, now time.Time) error {
	if err := tx.DeleteReservation(ctx, r.ID); err != nil {
		return err
	}
	ev, err := domain.NewReservationEvent(eventType, r, now)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, ev)
}
