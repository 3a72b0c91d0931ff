// Package worker implements the broker-consuming pool that delivers queued
// greetings, classifying failures into retry-vs-dead-letter decisions.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/broker"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/delivery"
	"github.com/tartampluch/greeter-service/internal/eventlog"
	"github.com/tartampluch/greeter-service/internal/resilience"
	"github.com/tartampluch/greeter-service/internal/telemetry"
	"github.com/tartampluch/greeter-service/internal/users"
)

// Consumer is the narrow broker surface the pool depends on.
type Consumer interface {
	Consume(ctx context.Context, handler func(broker.Envelope, broker.Delivery) error) error
}

// acker is the ack/nack/reject vocabulary handle/fail/succeed act on. It
// exists so tests can supply a fake without standing up a real
// amqp.Delivery; broker.Delivery satisfies it structurally.
type acker interface {
	Ack() error
	Nack(requeue bool) error
	Reject(requeue bool) error
}

// Pool consumes envelopes off the broker and drives each one through
// delivery, retry, and terminal-state bookkeeping.
type Pool struct {
	Consumer    Consumer
	Store       eventlog.Store
	Users       users.Source
	Delivery    delivery.Client
	Envelope    *resilience.Envelope
	MaxRetries  int
	Concurrency int
	Metrics     *telemetry.Metrics

	wg sync.WaitGroup
}

// Run consumes until ctx is cancelled. The broker consumer hands deliveries
// to Run's callback one at a time, but the callback only blocks on a
// semaphore sized to Concurrency before launching the actual handler on its
// own goroutine — so up to Concurrency deliveries are in flight at once,
// each with its own delivery attempt, retry, and ack/nack, while the broker
// keeps reading off the channel. On shutdown signal the broker.Consumer.Consume
// loop returns once its context is done, and Run waits for in-flight handler
// calls to finish before returning (the teacher's ctx.Done()-driven shutdown
// shape, generalized from backgroundWorker).
func (p *Pool) Run(ctx context.Context) error {
	log := slog.With(slog.String(config.LogKeyComponent, config.CompWorker))
	log.Info(config.MsgWorkerStart)

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	err := p.Consumer.Consume(ctx, func(env broker.Envelope, d broker.Delivery) error {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-sem }()
			if err := p.handle(ctx, env, d, log); err != nil {
				log.Error("failed to settle delivery", slog.String(config.LogKeyMessageID, env.MessageID), slog.String(config.LogKeyError, err.Error()))
			}
		}()
		return nil
	})

	p.wg.Wait()
	log.Info(config.MsgWorkerStop)
	return err
}

func (p *Pool) handle(ctx context.Context, env broker.Envelope, d acker, log *slog.Logger) error {
	id, err := uuid.Parse(env.MessageID)
	if err != nil {
		log.Error("malformed message id in envelope", slog.String(config.LogKeyMessageID, env.MessageID))
		return d.Reject(false)
	}

	row, err := p.Store.FindByID(ctx, id)
	if err != nil {
		log.Error("failed to load message log", slog.String(config.LogKeyMessageID, env.MessageID), slog.String(config.LogKeyError, err.Error()))
		return d.Nack(true)
	}
	if row == nil {
		log.Warn("message log not found, dropping", slog.String(config.LogKeyMessageID, env.MessageID))
		return d.Reject(false)
	}

	// Redelivery-safety checkpoint: a message already SENT was delivered by
	// a prior attempt whose ack was lost. Drop it without resending.
	if row.Status == eventlog.StatusSent {
		log.Info("message already sent, dropping redelivery", slog.String(config.LogKeyMessageID, env.MessageID))
		return d.Ack()
	}
	if row.Status.IsTerminal() {
		log.Info("message in terminal state, dropping", slog.String(config.LogKeyMessageID, env.MessageID), slog.String(config.LogKeyStatus, string(row.Status)))
		return d.Ack()
	}

	if err := p.Store.MarkStatus(ctx, id, row.Status, eventlog.StatusSending); err != nil {
		log.Warn("failed to mark sending, assuming a concurrent worker owns it", slog.String(config.LogKeyError, err.Error()))
		return d.Ack()
	}

	user, err := p.Users.FindByID(ctx, row.UserID)
	if err != nil {
		log.Error("failed to resolve recipient", slog.String(config.LogKeyUserID, row.UserID), slog.String(config.LogKeyError, err.Error()))
		return p.fail(ctx, row, d, 0, "", apperr.IsType(err, apperr.TypeTransient), err.Error(), log)
	}
	if user == nil {
		log.Error("recipient no longer exists", slog.String(config.LogKeyUserID, row.UserID))
		return p.fail(ctx, row, d, 0, "", false, "recipient not found", log)
	}

	var result delivery.Result
	attempts, sendErr := p.Envelope.Do(ctx, func(attemptCtx context.Context) error {
		res, err := p.Delivery.Send(attemptCtx, user.Email, row.MessageContent)
		result = res
		return err
	})

	if sendErr == nil {
		return p.succeed(ctx, row, d, attempts, result, log)
	}

	transient := apperr.IsType(sendErr, apperr.TypeTransient)
	return p.fail(ctx, row, d, result.StatusCode, result.Body, transient, sendErr.Error(), log)
}

func (p *Pool) succeed(ctx context.Context, row *eventlog.MessageLog, d acker, attempts int, result delivery.Result, log *slog.Logger) error {
	if err := p.Store.RecordSuccess(ctx, row.ID, time.Now().UTC(), result.StatusCode, result.Body); err != nil {
		log.Error("failed to record delivery success", slog.String(config.LogKeyError, err.Error()))
	}
	if p.Metrics != nil {
		p.Metrics.SentTotal.WithLabelValues(row.MessageType).Inc()
	}
	log.Info("message delivered", slog.String(config.LogKeyMessageID, row.ID.String()), slog.Int("attempts", attempts))
	return d.Ack()
}

func (p *Pool) fail(ctx context.Context, row *eventlog.MessageLog, d acker, statusCode int, body string, transient bool, errMsg string, log *slog.Logger) error {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultMaxRetries
	}

	retriesLeft := row.RetryCount+1 < maxRetries
	if !transient {
		// A permanent failure is terminal: record FAILED whatever budget remains.
		maxRetries = row.RetryCount + 1
		retriesLeft = false
	}
	requeue := transient && retriesLeft

	if err := p.Store.RecordFailure(ctx, row.ID, time.Now().UTC(), statusCode, body, errMsg, maxRetries); err != nil {
		log.Error("failed to record delivery failure", slog.String(config.LogKeyError, err.Error()))
	}
	if p.Metrics != nil {
		if requeue {
			p.Metrics.RetryTotal.WithLabelValues(row.MessageType).Inc()
		} else {
			p.Metrics.FailedTotal.WithLabelValues(row.MessageType).Inc()
		}
	}

	log.Warn("delivery attempt failed",
		slog.String(config.LogKeyMessageID, row.ID.String()),
		slog.Int(config.LogKeyRetry, row.RetryCount+1),
		slog.Bool("transient", transient),
		slog.String(config.LogKeyError, errMsg),
	)

	if requeue {
		return d.Nack(true)
	}
	return d.Reject(false)
}
