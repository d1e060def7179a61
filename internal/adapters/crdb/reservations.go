package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// blockingOverlap is the overlap predicate shared by every availability query:
// NOT (check_out <= requested check-in OR check_in >= requested check-out).
const blockingOverlap = `status = ANY($2) AND NOT (check_out <= $3::DATE OR check_in >= $4::DATE)`

const reservationColumns = `id, apartment_id, client_id, check_in, check_out, guests, total_price::STRING,
	status, access_code, cancellation_token, special_request, created_at`

func blockingStatuses() []string {
	out := make([]string, len(domain.BlockingStatuses))
	for i, s := range domain.BlockingStatuses {
		out[i] = string(s)
	}
	return out
}

func hasOverlap(ctx context.Context, q querier, apartmentID int64, rng domain.DateRange) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations WHERE apartment_id = $1 AND `+blockingOverlap+`
		)
	`, apartmentID, blockingStatuses(), rng.CheckIn, rng.CheckOut).Scan(&exists)
	if err != nil {
		return false, domain.Persistence(err, "query overlap")
	}
	return exists, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		r      domain.Reservation
		price  string
		status string
	)
	err := row.Scan(&r.ID, &r.ApartmentID, &r.ClientID, &r.CheckIn, &r.CheckOut, &r.Guests, &price,
		&status, &r.AccessCode, &r.CancellationToken, &r.SpecialRequest, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, domain.Persistence(err, "scan reservation")
	}
	r.TotalPrice, err = decimal.NewFromString(price)
	if err != nil {
		return nil, domain.Persistence(err, "parse total price")
	}
	r.Status = domain.ReservationStatus(status)
	r.CheckIn = domain.Day(r.CheckIn)
	r.CheckOut = domain.Day(r.CheckOut)
	return &r, nil
}

func loadGuest(ctx context.Context, q querier, r *domain.Reservation) error {
	err := q.QueryRow(ctx, `
		SELECT first_name, last_name, email, phone, address, city, country
		FROM guest_information WHERE reservation_id = $1
	`, r.ID).Scan(&r.Guest.FirstName, &r.Guest.LastName, &r.Guest.Email, &r.Guest.Phone,
		&r.Guest.Address, &r.Guest.City, &r.Guest.Country)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Persistence(errors.Newf("reservation %d has no guest information", r.ID), "load guest")
	}
	return domain.Persistence(err, "load guest")
}

func (r *Repository) HasOverlap(ctx context.Context, apartmentID int64, rng domain.DateRange) (bool, error) {
	return hasOverlap(ctx, r.pool, apartmentID, rng)
}

func (r *Repository) GetReservation(ctx context.Context, id int64) (*domain.Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := loadGuest(ctx, r.pool, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repository) OverlappingApartments(ctx context.Context, apartmentIDs []int64, rng domain.DateRange) (map[int64]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT apartment_id FROM reservations
		WHERE apartment_id = ANY($1) AND `+blockingOverlap+`
	`, apartmentIDs, blockingStatuses(), rng.CheckIn, rng.CheckOut)
	if err != nil {
		return nil, domain.Persistence(err, "query overlapping apartments")
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence(err, "scan apartment id")
		}
		out[id] = true
	}
	return out, domain.Persistence(rows.Err(), "iterate overlapping apartments")
}

func (r *Repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM reservations
		WHERE status = $1 AND created_at < $2
		ORDER BY id LIMIT $3
	`, string(domain.StatusPending), createdBefore, limit)
	if err != nil {
		return nil, domain.Persistence(err, "query stale reservations")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, domain.Persistence(err, "scan reservation id")
		}
		ids = append(ids, id)
	}
	return ids, domain.Persistence(rows.Err(), "iterate stale reservations")
}

// pgTx implements domain.Tx on top of an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) HasOverlap(ctx context.Context, apartmentID int64, rng domain.DateRange) (bool, error) {
	return hasOverlap(ctx, t.tx, apartmentID, rng)
}

// LockApartment upserts the apartment's lock row, which holds a write lock on
// it until the transaction ends.
func (t *pgTx) LockApartment(ctx context.Context, apartmentID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO apartment_locks (apartment_id, locked_at) VALUES ($1, now())
		ON CONFLICT (apartment_id) DO UPDATE SET locked_at = excluded.locked_at
	`, apartmentID)
	return domain.Persistence(err, "lock apartment")
}

func (t *pgTx) InsertReservation(ctx context.Context, r *domain.Reservation) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO reservations (apartment_id, client_id, check_in, check_out, guests, total_price,
			status, access_code, cancellation_token, special_request)
		VALUES ($1, $2, $3::DATE, $4::DATE, $5, $6::DECIMAL, $7, $8, $9, $10)
		RETURNING id, created_at
	`, r.ApartmentID, r.ClientID, r.CheckIn, r.CheckOut, r.Guests, r.TotalPrice.StringFixed(2),
		string(r.Status), r.AccessCode, r.CancellationToken, r.SpecialRequest).Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return domain.Persistence(err, "insert reservation")
	}

	g := r.Guest
	_, err = t.tx.Exec(ctx, `
		INSERT INTO guest_information (reservation_id, first_name, last_name, email, phone, address, city, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, g.FirstName, g.LastName, g.Email, g.Phone, g.Address, g.City, g.Country)
	return domain.Persistence(err, "insert guest information")
}

func (t *pgTx) GetReservationForUpdate(ctx context.Context, id int64) (*domain.Reservation, error) {
	res, err := scanReservation(t.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if err := loadGuest(ctx, t.tx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *pgTx) SetStatus(ctx context.Context, id int64, status domain.ReservationStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE reservations SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return domain.Persistence(err, "update reservation status")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "reservation %d", id)
	}
	return nil
}

func (t *pgTx) HasPaidPayment(ctx context.Context, reservationID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM payments WHERE reservation_id = $1 AND status = $2)
	`, reservationID, string(domain.PaymentPaid)).Scan(&exists)
	return exists, domain.Persistence(err, "query paid payment")
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (reservation_id, amount, provider, session_id, payment_intent_id, status)
		VALUES ($1, $2::DECIMAL, $3, $4, $5, $6)
		RETURNING id, payment_date
	`, p.ReservationID, p.Amount.StringFixed(2), p.Provider, p.SessionID, p.PaymentIntentID,
		string(p.Status)).Scan(&p.ID, &p.PaymentDate)
	return domain.Persistence(err, "insert payment")
}

// DeleteReservation removes children before the parent so the same invariant
// holds without relying on ON DELETE CASCADE.
func (t *pgTx) DeleteReservation(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE reservation_id = $1`, id); err != nil {
		return domain.Persistence(err, "delete payments")
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM guest_information WHERE reservation_id = $1`, id); err != nil {
		return domain.Persistence(err, "delete guest information")
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM reservations WHERE id = $1`, id)
	return domain.Persistence(err, "delete reservation")
}

func (t *pgTx) InsertOutbox(ctx context.Context, ev domain.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, ev)
}
