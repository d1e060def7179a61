package crdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/smarthost-reservations/internal/domain"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
)

func insertOutbox(ctx context.Context, q querier, ev domain.OutboxEvent) error {
	_, err := q.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, ev.ID, ev.AggregateType, ev.AggregateID, ev.EventType, ev.Payload, ev.CreatedAt, ev.DedupeKey)
	return domain.Persistence(err, "insert outbox")
}

func (r *Repository) getUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]domain.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, domain.Persistence(err, "query outbox")
	}
	defer rows.Close()

	var records []domain.OutboxEvent
	for rows.Next() {
		var rec domain.OutboxEvent
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload,
			&rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, domain.Persistence(err, "scan outbox")
		}
		records = append(records, rec)
	}
	return records, domain.Persistence(rows.Err(), "iterate outbox")
}

// RelayOutbox locks up to limit NEW rows, hands each to publish and marks the
// delivered ones PUBLISHED in the same transaction. Rows whose publish fails
// stay NEW for the next pass, so delivery is at-least-once keyed by dedupe_key.
func (r *Repository) RelayOutbox(ctx context.Context, limit int, publish func(ctx context.Context, ev domain.OutboxEvent) error) (int, error) {
	published := 0
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := r.getUnpublishedOutbox(ctx, tx, limit)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			observability.OutboxLag.Set(time.Since(records[0].CreatedAt).Seconds())
		} else {
			observability.OutboxLag.Set(0)
		}

		for _, rec := range records {
			if err := publish(ctx, rec); err != nil {
				continue
			}
			_, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = now() WHERE id = $1
			`, rec.ID)
			if err != nil {
				return domain.Persistence(err, "mark outbox published")
			}
			published++
		}
		return nil
	})
	return published, err
}
