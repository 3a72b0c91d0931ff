// Package broker wraps github.com/rabbitmq/amqp091-go into the narrow
// publish/consume surface the pipeline needs: one durable topic exchange
// feeding one quorum queue, with a parallel dead-letter exchange/queue for
// exhausted or malformed deliveries.
package broker

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

// Topology names every exchange/queue the pipeline declares.
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	Queue              string
	DeadLetterQueue    string
	RoutingPrefix      string
	Replicas           int
}

// RoutingKey returns the routing key for a given message kind, e.g.
// "greeting.BIRTHDAY".
func (t Topology) RoutingKey(kind string) string {
	return t.RoutingPrefix + "." + kind
}

// DeclareTopology declares the durable topic exchange, its quorum queue, and
// the parallel DLX/DLQ, wiring the main queue's dead-letter-exchange arg to
// DeadLetterExchange and its dead-letter routing key to DeadLetterQueue (the
// key the DLQ is bound with on the direct DLX).
func DeclareTopology(ch *amqp.Channel, t Topology) error {
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to declare main exchange")
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to declare dead-letter exchange")
	}

	replicas := t.Replicas
	if replicas <= 0 {
		replicas = 3
	}

	mainArgs := amqp.Table{
		"x-queue-type":                "quorum",
		"x-quorum-initial-group-size": replicas,
		"x-dead-letter-exchange":      t.DeadLetterExchange,
		"x-dead-letter-routing-key":   t.DeadLetterQueue,
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, mainArgs); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to declare main queue")
	}
	if err := ch.QueueBind(t.Queue, t.RoutingPrefix+".*", t.Exchange, false, nil); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to bind main queue")
	}

	dlqArgs := amqp.Table{"x-queue-type": "quorum"}
	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, dlqArgs); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to declare dead-letter queue")
	}
	if err := ch.QueueBind(t.DeadLetterQueue, t.DeadLetterQueue, t.DeadLetterExchange, false, nil); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to bind dead-letter queue")
	}

	return nil
}

// Envelope is the wire payload published to the broker, matching §6's job
// envelope shape.
type Envelope struct {
	MessageID         string    `json:"messageId"`
	UserID            string    `json:"userId"`
	MessageType       string    `json:"messageType"`
	ScheduledSendTime time.Time `json:"scheduledSendTime"`
	RetryCount        int       `json:"retryCount"`
	Timestamp         int64     `json:"timestamp"`
}

// Delivery wraps an amqp.Delivery, exposing only the ack/nack/reject
// vocabulary the worker pool needs and never auto-acking.
type Delivery struct {
	raw amqp.Delivery
}

func (d Delivery) Ack() error                { return d.raw.Ack(false) }
func (d Delivery) Nack(requeue bool) error   { return d.raw.Nack(false, requeue) }
func (d Delivery) Reject(requeue bool) error { return d.raw.Reject(requeue) }
func (d Delivery) Body() []byte              { return d.raw.Body }
