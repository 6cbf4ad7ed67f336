package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/departure-inventory/internal/observability"
)

// SweepRoutingKey is the routing key of on-demand expiry sweep requests.
const SweepRoutingKey = "sweep.requested"

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares queue, binds it to the events exchange under
// routingKey and limits unacked deliveries to one.
func NewConsumer(conn *amqp.Connection, queue, routingKey string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := ch.QueueBind(queue, routingKey, EventsExchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Wrapf(err, "bind queue %s", queue)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

// Handle runs fn for every delivery until ctx is done or the channel closes.
// Failed deliveries are requeued once and dropped after that.
func (c *Consumer) Handle(ctx context.Context, fn func(ctx context.Context, d amqp.Delivery) error) error {
	deliveries, err := c.Consume(ctx)
	if err != nil {
		return errors.Wrapf(err, "consume %s", c.queue)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.Newf("delivery channel for %s closed", c.queue)
			}
			if err := fn(ctx, d); err != nil {
				c.logger.WithField("queue", c.queue).WithError(err).Warn("delivery failed")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
