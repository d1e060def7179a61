package crdb

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

const (
	SerializationFailureCode = "40001"

	defaultMaxRetries = 8
	baseRetryBackoff  = 10 * time.Millisecond
	maxRetryBackoff   = time.Second
)

type Repository struct {
	pool       *pgxpool.Pool
	maxRetries int
}

type Option func(*Repository)

func WithMaxRetries(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open builds a pool with bounded connection lifetimes.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse crdb dsn")
	}
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect to crdb")
	}
	return pool, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a SERIALIZABLE transaction, retrying the whole function
// with jittered exponential backoff when the database reports 40001.
func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryBackoff
	b.MaxInterval = maxRetryBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.runTx(ctx, fn)
		if err != nil && !errors.Is(err, domain.ErrSerializationFailure) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxRetries)),
		backoff.WithNotify(func(error, time.Duration) { observability.DBTxRetries.Inc() }),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if errors.Is(err, domain.ErrSerializationFailure) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Persistence(err, "transaction retries exhausted")
	}
	return err
}

func (r *Repository) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return domain.Persistence(err, "begin transaction")
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(tx); err != nil {
		return classify(err, "transaction")
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

func classify(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Wrap(domain.ErrSerializationFailure, pgErr.Message)
	}
	return domain.Persistence(err, msg)
}

func (r *Repository) Atomically(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
}
