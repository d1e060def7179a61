package outbox

import (
	"context"
	"time"

	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

const defaultBatch = 50

// Relay hands unpublished events to publish and marks the delivered ones.
type Relay interface {
	RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, ev domain.OutboxEvent) error) (int, error)
}

type Sink interface {
	PublishOutbox(ctx context.Context, ev domain.OutboxEvent) error
}

type Publisher struct {
	relay  Relay
	sink   Sink
	batch  int
	logger observability.Logger
}

func NewPublisher(relay Relay, sink Sink, logger observability.Logger) *Publisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Publisher{relay: relay, sink: sink, batch: defaultBatch, logger: logger}
}

// PublishOnce drains one batch. Events whose publish fails stay unpublished.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	failed := 0
	n, err := p.relay.RelayOutbox(ctx, p.batch, func(ctx context.Context, ev domain.OutboxEvent) error {
		if err := p.sink.PublishOutbox(ctx, ev); err != nil {
			failed++
			p.logger.WithError(err).WithFields(map[string]interface{}{
				"event_type": ev.EventType,
				"dedupe_key": ev.DedupeKey,
			}).Warn("outbox publish failed")
			return err
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	if n > 0 || failed > 0 {
		p.logger.WithFields(map[string]interface{}{"published": n, "failed": failed}).Debug("outbox batch relayed")
	}
	return n, nil
}

// Run relays until ctx is done. A full batch is followed immediately by
// another pass.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	p.logger.Info("outbox publisher started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-ticker.C:
			for {
				n, err := p.PublishOnce(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox relay failed")
					break
				}
				if n < p.batch || ctx.Err() != nil {
					break
				}
			}
		}
	}
}
