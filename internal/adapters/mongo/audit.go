package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/smarthost-reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID            string    `bson:"_id"`
	Action        string    `bson:"action"`
	ReservationID int64     `bson:"reservation_id"`
	Timestamp     time.Time `bson:"timestamp"`
	Data          bson.M    `bson:"data"`
}

// Record stores an audit entry. Failures are logged and never surface to the
// caller; the audit trail must not fail a reservation flow.
func (a *AuditLogger) Record(ctx context.Context, action string, reservationID int64, data map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), queryTimeout)
	defer cancel()

	entry := AuditLog{
		ID:            uuid.NewString(),
		Action:        action,
		ReservationID: reservationID,
		Timestamp:     time.Now().UTC(),
		Data:          bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, entry); err != nil {
		a.logger.WithError(err).WithFields(map[string]interface{}{
			"action":         action,
			"reservation_id": reservationID,
		}).Error("failed to insert audit log")
	}
}

func (a *AuditLogger) Recent(ctx context.Context, reservationID int64) ([]AuditLog, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := a.coll.Find(ctx, bson.M{"reservation_id": reservationID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	defer cur.Close(ctx)

	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}
