package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultEventLogTTL = 72 * time.Hour

// EventLog remembers processed webhook event ids. It only short-circuits
// redeliveries; reconciliation stays idempotent without it.
type EventLog struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEventLog(client *redis.Client, ttl time.Duration) *EventLog {
	if ttl <= 0 {
		ttl = DefaultEventLogTTL
	}
	return &EventLog{client: client, ttl: ttl}
}

func (l *EventLog) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, "webhook:event:"+eventID).Result()
	if err != nil {
		return false, errors.Wrap(err, "check event log")
	}
	return n > 0, nil
}

func (l *EventLog) Remember(ctx context.Context, eventID string) error {
	return errors.Wrap(l.client.Set(ctx, "webhook:event:"+eventID, 1, l.ttl).Err(), "remember event")
}
