package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/departure-inventory/internal/domain"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLogger appends hold and checkout transitions to audit_logs.
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
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	HoldID    string    `bson:"hold_id,omitempty"`
	ScopeKey  string    `bson:"scope_key,omitempty"`
	ActorID   string    `bson:"actor_id,omitempty"`
	SessionID string    `bson:"session_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data,omitempty"`
}

func newAuditLog(e domain.AuditEntry) AuditLog {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    e.Action,
		ActorID:   e.ActorID,
		SessionID: e.SessionID,
		Timestamp: e.At.UTC(),
	}
	if e.HoldID != uuid.Nil {
		log.HoldID = e.HoldID.String()
	}
	if e.ScopeKey != uuid.Nil {
		log.ScopeKey = e.ScopeKey.String()
	}
	if len(e.Data) > 0 {
		log.Data = bson.M(e.Data)
	}
	return log
}

func (a *AuditLogger) Record(ctx context.Context, entries ...domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, newAuditLog(e))
	}
	_, err := a.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit logs")
		return errors.Wrap(err, "insert audit logs")
	}
	return nil
}

// History returns the audit trail of one hold, oldest first.
func (a *AuditLogger) History(ctx context.Context, holdID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"hold_id": holdID.String()}, options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}
