package rabbit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Dial connects to the broker, retrying while it starts up.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	}, backoff.WithMaxElapsedTime(30*time.Second))
	return conn, errors.Wrap(err, "dial rabbit")
}

var ErrConnectionClosed = errors.New("rabbit connection closed")

// Check reports whether conn is still open. Used by readiness probes.
func Check(conn *amqp.Connection) func(ctx context.Context) error {
	return func(context.Context) error {
		if conn.IsClosed() {
			return ErrConnectionClosed
		}
		return nil
	}
}
