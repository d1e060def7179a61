// Package memory is an in-process Store with the same transactional contract
// as the CockroachDB adapter. Every Atomically call runs under one mutex on a
// private copy of the state that is swapped in on success.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
)

type state struct {
	reservations    map[int64]domain.Reservation
	payments        map[int64]domain.Payment
	outbox          []domain.OutboxEvent
	nextReservation int64
	nextPayment     int64
}

func (s *state) clone() *state {
	c := &state{
		reservations:    make(map[int64]domain.Reservation, len(s.reservations)),
		payments:        make(map[int64]domain.Payment, len(s.payments)),
		outbox:          append([]domain.OutboxEvent(nil), s.outbox...),
		nextReservation: s.nextReservation,
		nextPayment:     s.nextPayment,
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	return c
}

type Store struct {
	mu       sync.Mutex
	st       *state
	now      func() time.Time
	failNext []error
}

func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		st: &state{
			reservations: make(map[int64]domain.Reservation),
			payments:     make(map[int64]domain.Payment),
		},
		now: now,
	}
}

// FailNext makes the next Atomically call fail with err before running fn.
func (s *Store) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = append(s.failNext, err)
}

func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.failNext) > 0 {
		err := s.failNext[0]
		s.failNext = s.failNext[1:]
		return domain.Persistence(err, "begin transaction")
	}

	tx := &memTx{st: s.st.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.Persistence(err, "commit transaction")
	}
	s.st = tx.st
	return nil
}

func (s *Store) HasOverlap(_ context.Context, apartmentID int64, rng domain.DateRange) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasOverlap(s.st, apartmentID, rng), nil
}

func (s *Store) GetReservation(_ context.Context, id int64) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.reservations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (s *Store) OverlappingApartments(_ context.Context, apartmentIDs []int64, rng domain.DateRange) (map[int64]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]bool)
	for _, id := range apartmentIDs {
		if hasOverlap(s.st, id, rng) {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Store) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, r := range s.st.reservations {
		if r.Status == domain.StatusPending && r.CreatedAt.Before(createdBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Payments returns the payments recorded for a reservation, ordered by id.
func (s *Store) Payments(reservationID int64) []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Payment
	for _, p := range s.st.payments {
		if p.ReservationID == reservationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxEvent(nil), s.st.outbox...)
}

// RelayOutbox hands NEW events to publish in creation order and marks the
// successful ones as published.
func (s *Store) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, ev domain.OutboxEvent) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := 0
	for i := range s.st.outbox {
		if limit > 0 && published >= limit {
			break
		}
		ev := &s.st.outbox[i]
		if ev.Status != "NEW" {
			continue
		}
		if err := publish(ctx, *ev); err != nil {
			continue
		}
		now := s.now()
		ev.Status = "PUBLISHED"
		ev.PublishedAt = &now
		published++
	}
	return published, nil
}

func hasOverlap(st *state, apartmentID int64, rng domain.DateRange) bool {
	for _, r := range st.reservations {
		if r.ApartmentID == apartmentID && r.Status.Blocking() && r.Range().Overlaps(rng) {
			return true
		}
	}
	return false
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) HasOverlap(_ context.Context, apartmentID int64, rng domain.DateRange) (bool, error) {
	return hasOverlap(t.st, apartmentID, rng), nil
}

// LockApartment is a no-op: the store mutex already serializes transactions.
func (t *memTx) LockApartment(context.Context, int64) error {
	return nil
}

func (t *memTx) InsertReservation(_ context.Context, r *domain.Reservation) error {
	t.st.nextReservation++
	r.ID = t.st.nextReservation
	r.CreatedAt = t.now().UTC()
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *memTx) GetReservationForUpdate(_ context.Context, id int64) (*domain.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) SetStatus(_ context.Context, id int64, status domain.ReservationStatus) error {
	r, ok := t.st.reservations[id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "reservation %d", id)
	}
	r.Status = status
	t.st.reservations[id] = r
	return nil
}

func (t *memTx) HasPaidPayment(_ context.Context, reservationID int64) (bool, error) {
	for _, p := range t.st.payments {
		if p.ReservationID == reservationID && p.Status == domain.PaymentPaid {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	if p.Status == domain.PaymentPaid {
		paid, _ := t.HasPaidPayment(ctx, p.ReservationID)
		if paid {
			return domain.Persistence(errors.Newf("duplicate paid payment for reservation %d", p.ReservationID), "insert payment")
		}
	}
	t.st.nextPayment++
	p.ID = t.st.nextPayment
	p.PaymentDate = t.now().UTC()
	t.st.payments[p.ID] = *p
	return nil
}

func (t *memTx) DeleteReservation(_ context.Context, id int64) error {
	for pid, p := range t.st.payments {
		if p.ReservationID == id {
			delete(t.st.payments, pid)
		}
	}
	delete(t.st.reservations, id)
	return nil
}

func (t *memTx) InsertOutbox(_ context.Context, ev domain.OutboxEvent) error {
	t.st.outbox = append(t.st.outbox, ev)
	return nil
}
