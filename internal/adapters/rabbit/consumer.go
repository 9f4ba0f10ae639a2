package rabbit

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"go.opentelemetry.io/otel"
)

// BookingEventHandler must be idempotent: deliveries are at least once.
type BookingEventHandler func(ctx context.Context, ev domain.BookingEvent) error

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares a durable queue bound to every booking.* event.
func NewConsumer(conn *amqp.Connection, queue string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := ch.QueueBind(queue, "booking.*", Exchange, false, nil); err != nil {
		return nil, errors.Wrapf(err, "bind queue %s", queue)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		return nil, errors.Wrap(err, "qos")
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	return c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
}

// Run feeds deliveries to handle until ctx is done or the channel closes.
// Undecodable messages are dropped; handler failures are requeued.
func (c *Consumer) Run(ctx context.Context, handle BookingEventHandler) error {
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
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d, handle)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, handle BookingEventHandler) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	logger := c.logger.WithField("message_id", d.MessageId).WithField("routing_key", d.RoutingKey)

	var ev domain.BookingEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		logger.WithError(err).Error("dropping undecodable booking event")
		observability.AuditEventsConsumed.WithLabelValues("invalid").Inc()
		if err := d.Nack(false, false); err != nil {
			logger.WithError(err).Warn("nack failed")
		}
		return
	}

	if err := handle(ctx, ev); err != nil {
		logger.WithError(err).Warn("booking event handler failed, requeueing")
		observability.AuditEventsConsumed.WithLabelValues("retry").Inc()
		if err := d.Nack(false, true); err != nil {
			logger.WithError(err).Warn("nack failed")
		}
		return
	}

	observability.AuditEventsConsumed.WithLabelValues("ok").Inc()
	if err := d.Ack(false); err != nil {
		logger.WithError(err).Warn("ack failed")
	}
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
