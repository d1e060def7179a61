// Package availability answers whether apartments are free for a date range.
// The same overlap predicate backs single-apartment checks, the check made
// inside the reservation transaction, and the bulk search filter.
package availability

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
)

type Mode int

const (
	// ModePublic rejects ranges that start before today.
	ModePublic Mode = iota
	// ModeInternal skips the past-date rule, for re-checks during reconciliation.
	ModeInternal
)

type Reader interface {
	domain.OverlapQuerier
	OverlappingApartments(ctx context.Context, apartmentIDs []int64, rng domain.DateRange) (map[int64]bool, error)
}

type Oracle struct {
	store Reader
	now   func() time.Time
}

func NewOracle(store Reader, now func() time.Time) *Oracle {
	if now == nil {
		now = time.Now
	}
	return &Oracle{store: store, now: now}
}

// ValidateRange enforces checkIn < checkOut and, in public mode, that the
// range does not start in the past.
func ValidateRange(rng domain.DateRange, mode Mode, now time.Time) error {
	if !rng.CheckIn.Before(rng.CheckOut) {
		return errors.Wrap(domain.ErrDateRangeInvalid, "check-in must be before check-out")
	}
	if mode == ModePublic && rng.StartsBefore(now) {
		return errors.Wrap(domain.ErrDateRangeInvalid, "check-in must not be in the past")
	}
	return nil
}

// Check runs the blocking-overlap test against q, which may be a store or an open transaction.
func Check(ctx context.Context, q domain.OverlapQuerier, apartmentID int64, rng domain.DateRange) (bool, error) {
	overlap, err := q.HasOverlap(ctx, apartmentID, rng)
	if err != nil {
		return false, domain.Persistence(err, "query overlapping reservations")
	}
	return !overlap, nil
}

func (o *Oracle) IsAvailable(ctx context.Context, apartmentID int64, rng domain.DateRange, mode Mode) (bool, error) {
	if err := ValidateRange(rng, mode, o.now()); err != nil {
		return false, err
	}
	return Check(ctx, o.store, apartmentID, rng)
}

// Filter selects apartments that can host Guests people and have no blocking
// reservation overlapping Range.
type Filter struct {
	Range  domain.DateRange
	Guests int
}

func (f Filter) admitsCapacity(a domain.Apartment) bool {
	return f.Guests <= 0 || a.MaxGuests >= f.Guests
}

func (o *Oracle) FilterAvailable(ctx context.Context, candidates []domain.Apartment, f Filter, mode Mode) ([]domain.Apartment, error) {
	if err := ValidateRange(f.Range, mode, o.now()); err != nil {
		return nil, err
	}

	fits := make([]domain.Apartment, 0, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for _, a := range candidates {
		if f.admitsCapacity(a) {
			fits = append(fits, a)
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return fits, nil
	}

	taken, err := o.store.OverlappingApartments(ctx, ids, f.Range)
	if err != nil {
		return nil, domain.Persistence(err, "query overlapping apartments")
	}

	out := fits[:0]
	for _, a := range fits {
		if !taken[a.ID] {
			out = append(out, a)
		}
	}
	return out, nil
}
