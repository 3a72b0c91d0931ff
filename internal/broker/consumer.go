package broker

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

// Consumer consumes Envelopes from one queue with a bounded prefetch and
// manual acknowledgement.
type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer sets ch's QoS to prefetch (unlimited size, per-consumer) and
// returns a Consumer bound to queue.
func NewConsumer(ch *amqp.Channel, queue string, prefetch int) (*Consumer, error) {
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to set consumer QoS")
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

// Consume delivers each message to handler, never acking/nacking on the
// handler's behalf: handler alone decides Ack/Nack/Reject on the Delivery it
// receives (the worker pool's per-message state machine, §4.H). The one
// exception is a malformed body, which Consume rejects without requeue
// since no envelope exists to hand the caller.
func (c *Consumer) Consume(ctx context.Context, handler func(Envelope, Delivery) error) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to start consuming")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return apperr.New(apperr.TypeTransient, "delivery channel closed")
			}

			var env Envelope
			if err := json.Unmarshal(d.Body, &env); err != nil {
				_ = d.Reject(false)
				continue
			}

			_ = handler(env, Delivery{raw: d})
		}
	}
}
