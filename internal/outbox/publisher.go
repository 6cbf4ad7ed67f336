package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/departure-inventory/internal/observability"
)

type Store interface {
	GetUnpublishedOutbox(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays NEW outbox records to the broker. Delivery is
// at-least-once; consumers dedupe on MessageId.
type Publisher struct {
	store     Store
	broker    Broker
	logger    observability.Logger
	batchSize int
}

func NewPublisher(store Store, broker Broker, logger observability.Logger, batchSize int) *Publisher {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Publisher{store: store, broker: broker, logger: logger, batchSize: batchSize}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishBatch(ctx); err != nil {
				p.logger.WithError(err).Error("outbox batch failed")
			}
		}
	}
}

// PublishBatch relays up to one batch and returns how many records were
// marked published.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	records, err := p.store.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:    rec.DedupeKey,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    rec.CreatedAt,
			Type:         rec.EventType,
			Body:         rec.Payload,
		}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, p.broker.Publish(ctx, rec.EventType, msg)
		},
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithMaxTries(3),
			backoff.WithNotify(func(error, time.Duration) {
				observability.RabbitPublishRetries.Inc()
			}),
		)
		if err != nil {
			p.logger.WithField("outbox_id", rec.ID).WithError(err).Warn("publish failed, will retry next batch")
			continue
		}
		if err := p.store.MarkPublished(ctx, rec.ID, time.Now().UTC()); err != nil {
			return published, err
		}
		observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
		published++
	}
	return published, nil
}
