package rabbit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

const (
	Exchange       = "smarthost.events"
	publishTimeout = 5 * time.Second
)

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	err = ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg); err != nil {
		observability.RabbitPublishFailures.Inc()
		return errors.Wrapf(err, "publish %s", key)
	}
	return nil
}

// PublishOutbox relays one outbox row; the dedupe key becomes the message id
// so consumers can drop redeliveries.
func (p *Publisher) PublishOutbox(ctx context.Context, ev domain.OutboxEvent) error {
	return p.Publish(ctx, ev.EventType, amqp.Publishing{
		MessageId:    ev.DedupeKey,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.CreatedAt,
		Type:         ev.EventType,
		Body:         ev.Payload,
	})
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
