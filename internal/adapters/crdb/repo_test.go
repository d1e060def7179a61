package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/smarthost-reservations/internal/adapters/crdb"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startCockroach(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping cockroach container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "26257")
	require.NoError(t, err)

	base := "postgresql://root@" + host + ":" + port.Port()
	admin, err := pgxpool.New(ctx, base+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	_, err = admin.Exec(ctx, `CREATE DATABASE IF NOT EXISTS smarthost`)
	admin.Close()
	require.NoError(t, err)

	pool, err := crdb.Open(ctx, base+"/smarthost?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applied, err := crdb.Migrate(ctx, pool)
	require.NoError(t, err)
	require.NotEmpty(t, applied)
	return pool
}

func rangeOf(t *testing.T, in, out string) domain.DateRange {
	t.Helper()
	rng, err := domain.ParseDateRange(in, out)
	require.NoError(t, err)
	return rng
}

func newReservation(apartmentID int64, rng domain.DateRange) *domain.Reservation {
	return &domain.Reservation{
		ApartmentID:       apartmentID,
		CheckIn:           rng.CheckIn,
		CheckOut:          rng.CheckOut,
		Guests:            2,
		TotalPrice:        decimal.RequireFromString("240.50"),
		Status:            domain.StatusPending,
		AccessCode:        domain.NewAccessCode(),
		CancellationToken: "token-" + rng.CheckIn.Format(domain.DateLayout),
		Guest: domain.GuestInformation{
			FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
			Phone: "+100", Address: "1 Main St", City: "London", Country: "UK",
		},
	}
}

// admit mirrors the coordinator's admission transaction.
func admit(ctx context.Context, repo *crdb.Repository, r *domain.Reservation) error {
	return repo.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
		if err := tx.LockApartment(ctx, r.ApartmentID); err != nil {
			return err
		}
		taken, err := tx.HasOverlap(ctx, r.ApartmentID, r.Range())
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrSlotUnavailable
		}
		return tx.InsertReservation(ctx, r)
	})
}

func TestRepository(t *testing.T) {
	pool := startCockroach(t)
	repo := crdb.NewRepository(pool, crdb.WithMaxRetries(10))
	ctx := context.Background()

	t.Run("migrations are applied once", func(t *testing.T) {
		applied, err := crdb.Migrate(ctx, pool)
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	t.Run("insert and read back", func(t *testing.T) {
		r := newReservation(1, rangeOf(t, "2031-03-01", "2031-03-05"))
		require.NoError(t, admit(ctx, repo, r))
		require.NotZero(t, r.ID)

		got, err := repo.GetReservation(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.True(t, got.TotalPrice.Equal(r.TotalPrice))
		assert.Equal(t, "2031-03-01", got.CheckIn.Format(domain.DateLayout))
		assert.Equal(t, "Lovelace", got.Guest.LastName)

		_, err = repo.GetReservation(ctx, r.ID+1000)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("half-open overlap", func(t *testing.T) {
		r := newReservation(2, rangeOf(t, "2031-04-10", "2031-04-15"))
		require.NoError(t, admit(ctx, repo, r))

		taken, err := repo.HasOverlap(ctx, 2, rangeOf(t, "2031-04-15", "2031-04-18"))
		require.NoError(t, err)
		assert.False(t, taken, "check-in on previous check-out day")

		taken, err = repo.HasOverlap(ctx, 2, rangeOf(t, "2031-04-05", "2031-04-10"))
		require.NoError(t, err)
		assert.False(t, taken, "check-out on existing check-in day")

		taken, err = repo.HasOverlap(ctx, 2, rangeOf(t, "2031-04-14", "2031-04-16"))
		require.NoError(t, err)
		assert.True(t, taken)

		busy, err := repo.OverlappingApartments(ctx, []int64{1, 2, 3}, rangeOf(t, "2031-04-12", "2031-04-13"))
		require.NoError(t, err)
		assert.Equal(t, map[int64]bool{2: true}, busy)
	})

	t.Run("concurrent admissions admit exactly one", func(t *testing.T) {
		const n = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
			rejected int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := admit(ctx, repo, newReservation(3, rangeOf(t, "2031-05-01", "2031-05-04")))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					admitted++
				case errors.Is(err, domain.ErrSlotUnavailable):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, admitted)
		assert.Equal(t, n-1, rejected)
	})

	t.Run("one paid payment per reservation", func(t *testing.T) {
		r := newReservation(4, rangeOf(t, "2031-06-01", "2031-06-03"))
		require.NoError(t, admit(ctx, repo, r))

		pay := func() error {
			return repo.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
				return tx.InsertPayment(ctx, &domain.Payment{
					ReservationID: r.ID, Amount: r.TotalPrice, Provider: domain.ProviderStripe,
					SessionID: "cs_test", Status: domain.PaymentPaid,
				})
			})
		}
		require.NoError(t, pay())
		err := pay()
		assert.True(t, errors.Is(err, domain.ErrPersistence), "got %v", err)

		err = repo.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
			paid, err := tx.HasPaidPayment(ctx, r.ID)
			if err != nil {
				return err
			}
			assert.True(t, paid)
			return tx.DeleteReservation(ctx, r.ID)
		})
		require.NoError(t, err)

		_, err = repo.GetReservation(ctx, r.ID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("stale pending and outbox relay", func(t *testing.T) {
		r := newReservation(5, rangeOf(t, "2031-07-01", "2031-07-03"))
		require.NoError(t, admit(ctx, repo, r))

		ids, err := repo.ListStalePending(ctx, time.Now().Add(time.Hour), 100)
		require.NoError(t, err)
		assert.Contains(t, ids, r.ID)

		ev, err := domain.NewReservationEvent(domain.EventReservationCreated, *r, time.Now())
		require.NoError(t, err)
		require.NoError(t, repo.Atomically(ctx, func(ctx context.Context, tx domain.Tx) error {
			return tx.InsertOutbox(ctx, ev)
		}))

		var seen []string
		n, err := repo.RelayOutbox(ctx, 10, func(_ context.Context, e domain.OutboxEvent) error {
			seen = append(seen, e.DedupeKey)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{ev.DedupeKey}, seen)

		n, err = repo.RelayOutbox(ctx, 10, func(context.Context, domain.OutboxEvent) error { return nil })
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
