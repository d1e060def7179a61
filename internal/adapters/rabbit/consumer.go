package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares queue and binds it to the events exchange under each
// routing key.
func NewConsumer(conn *amqp.Connection, queue string, keys ...string) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare queue")
	}
	for _, key := range keys {
		if err := ch.QueueBind(queue, key, Exchange, false, nil); err != nil {
			return nil, errors.Wrapf(err, "bind %s", key)
		}
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	return deliveries, errors.Wrap(err, "consume")
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
