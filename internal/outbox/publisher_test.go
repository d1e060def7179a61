package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/memory"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 5, 20, 8, 0, 0, 0, time.UTC)

type recordingSink struct {
	failFor map[string]bool
	got     []domain.OutboxEvent
}

func (s *recordingSink) PublishOutbox(_ context.Context, ev domain.OutboxEvent) error {
	if s.failFor[ev.DedupeKey] {
		return errors.New("broker unavailable")
	}
	s.got = append(s.got, ev)
	return nil
}

func seed(t *testing.T, store *memory.Store, ids ...int64) []domain.OutboxEvent {
	t.Helper()
	var events []domain.OutboxEvent
	err := store.Atomically(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		for _, id := range ids {
			ev, err := domain.NewReservationEvent(domain.EventReservationCreated, domain.Reservation{
				ID:          id,
				ApartmentID: 1,
				CheckIn:     testNow.AddDate(0, 0, 10),
				CheckOut:    testNow.AddDate(0, 0, 12),
				Guests:      2,
				TotalPrice:  decimal.RequireFromString("160"),
				Status:      domain.StatusPending,
			}, testNow)
			if err != nil {
				return err
			}
			if err := tx.InsertOutbox(ctx, ev); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestPublishOnceDeliversInOrder(t *testing.T) {
	store := memory.New(func() time.Time { return testNow })
	events := seed(t, store, 1, 2, 3)
	sink := &recordingSink{}

	n, err := NewPublisher(store, sink, observability.NopLogger()).PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, sink.got, 3)
	for i, ev := range events {
		assert.Equal(t, ev.DedupeKey, sink.got[i].DedupeKey)
	}
	for _, ev := range store.Outbox() {
		assert.Equal(t, "PUBLISHED", ev.Status)
	}
}

func TestPublishOnceRetriesFailures(t *testing.T) {
	store := memory.New(func() time.Time { return testNow })
	events := seed(t, store, 1, 2)
	sink := &recordingSink{failFor: map[string]bool{events[0].DedupeKey: true}}
	p := NewPublisher(store, sink, nil)

	n, err := p.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	delete(sink.failFor, events[0].DedupeKey)
	n, err = p.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, events[0].DedupeKey, sink.got[1].DedupeKey)

	n, err = p.PublishOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to relay")
}

func TestRunStopsWithContext(t *testing.T) {
	store := memory.New(func() time.Time { return testNow })
	seed(t, store, 1)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewPublisher(store, sink, nil).Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		for _, ev := range store.Outbox() {
			if ev.Status != "PUBLISHED" {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
