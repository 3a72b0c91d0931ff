package broker

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

// Publisher publishes Envelopes with publisher confirms enabled, blocking
// until the broker acknowledges each message before returning.
type Publisher struct {
	ch       *amqp.Channel
	exchange string
	confirms chan amqp.Confirmation
}

// NewPublisher puts ch into confirm mode and returns a Publisher bound to
// exchange.
func NewPublisher(ch *amqp.Channel, exchange string) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to enable publisher confirms")
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &Publisher{ch: ch, exchange: exchange, confirms: confirms}, nil
}

// Publish sends env to routingKey and waits for the broker's confirmation.
// A negative confirmation, or the context expiring first, is returned as a
// Transient error — the enqueuer leaves the row untouched on failure (§4.F),
// relying on the sweeper as the long-stop.
func (p *Publisher) Publish(ctx context.Context, routingKey string, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return apperr.Wrap(err, apperr.TypeInternal, "failed to marshal envelope")
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Headers: amqp.Table{
			"x-retry-count":  env.RetryCount,
			"x-message-type": env.MessageType,
			"x-user-id":      env.UserID,
		},
	}

	if err := p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to publish envelope")
	}

	select {
	case conf, ok := <-p.confirms:
		if !ok {
			return apperr.New(apperr.TypeTransient, "publisher confirm channel closed")
		}
		if !conf.Ack {
			return apperr.New(apperr.TypeTransient, "broker nacked publish")
		}
		return nil
	case <-ctx.Done():
		return apperr.Wrap(ctx.Err(), apperr.TypeTransient, "timed out waiting for publisher confirm")
	}
}
