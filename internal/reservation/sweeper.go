package reservation

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSweepBatch       = 100
	defaultSweepConcurrency = 4
)

// Sweeper removes PENDING reservations whose checkout was abandoned. The
// provider's expiry webhook normally does this; the sweeper covers lost
// deliveries. pendingTTL must exceed the checkout session lifetime.
type Sweeper struct {
	store       domain.Store
	pendingTTL  time.Duration
	batch       int
	concurrency int
	auditor     domain.Auditor
	logger      observability.Logger
	now         func() time.Time
}

func NewSweeper(store domain.Store, pendingTTL time.Duration, logger observability.Logger, auditor domain.Auditor) *Sweeper {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Sweeper{
		store:       store,
		pendingTTL:  pendingTTL,
		batch:       defaultSweepBatch,
		concurrency: defaultSweepConcurrency,
		auditor:     auditor,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// SweepOnce removes one batch of stale reservations and returns how many were deleted.
// Each reservation is re-checked and removed in its own transaction.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.pendingTTL)
	ids, err := s.store.ListStalePending(ctx, cutoff, s.batch)
	if err != nil {
		return 0, domain.Persistence(err, "list stale reservations")
	}

	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var gone bool
			err := s.store.Atomically(gctx, func(ctx context.Context, tx domain.Tx) error {
				var err error
				gone, err = RemoveIfPending(ctx, tx, id, domain.EventReservationExpired, now, func(r domain.Reservation) bool {
					return r.CreatedAt.Before(cutoff)
				})
				return err
			})
			if err != nil {
				return err
			}
			if gone {
				removed.Add(1)
				s.auditor.Record(gctx, "reservation.expired", id, map[string]interface{}{"source": "sweeper"})
			}
			return nil
		})
	}
	err = g.Wait()

	n := int(removed.Load())
	observability.ExpiredReservationsSwept.Add(float64(n))
	if n > 0 {
		s.logger.WithField("count", n).Info("stale pending reservations removed")
	}
	return n, err
}

// Run sweeps every interval until ctx is done. Failed sweeps are retried on
// the next tick.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.WithError(err).Error("sweep failed")
			}
		}
	}
}
