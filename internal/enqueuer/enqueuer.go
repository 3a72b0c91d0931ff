// Package enqueuer implements the minute-tick job that moves SCHEDULED rows
// within the lookahead window onto the broker.
package enqueuer

import (
	"context"
	"log/slog"
	"time"

	"github.com/tartampluch/greeter-service/internal/broker"
	"github.com/tartampluch/greeter-service/internal/clock"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/eventlog"
	"github.com/tartampluch/greeter-service/internal/telemetry"
)

// Stats summarizes one Run.
type Stats struct {
	Published int
	Errors    int
}

// Publisher is the narrow broker surface enqueuer depends on, letting tests
// substitute a fake without standing up a real amqp.Channel.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env broker.Envelope) error
}

// Job runs the minute-tick enqueue sweep.
type Job struct {
	Store      eventlog.Store
	Publisher  Publisher
	Clock      clock.Clock
	Topology   broker.Topology
	LookAhead  time.Duration
	BatchLimit int
	Metrics    *telemetry.Metrics
}

// Run publishes an envelope for every SCHEDULED row whose scheduledSendTime
// falls within [now, now+LookAhead), capped at BatchLimit, and transitions
// each published row to QUEUED only once the broker confirms it. A publish
// failure leaves the row SCHEDULED — the sweeper is the long-stop that
// recovers it, so Run never retries within the same tick (§4.F).
func (j *Job) Run(ctx context.Context) (Stats, error) {
	now := j.Clock.Now()
	stats := Stats{}

	log := slog.With(slog.String(config.LogKeyComponent, config.CompEnqueuer))
	log.Info(config.MsgEnqueueStarted)

	limit := j.BatchLimit
	if limit <= 0 {
		limit = config.DefaultEnqueueBatch
	}

	due, err := j.Store.FindDueBetween(ctx, now, now.Add(j.LookAhead), eventlog.StatusScheduled)
	if err != nil {
		return stats, err
	}
	if len(due) > limit {
		due = due[:limit]
	}

	for _, row := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		j.publishOne(ctx, row, &stats, log)
	}

	log.Info(config.MsgEnqueueFinished,
		slog.Int("published", stats.Published),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (j *Job) publishOne(ctx context.Context, row *eventlog.MessageLog, stats *Stats, log *slog.Logger) {
	env := broker.Envelope{
		MessageID:         row.ID.String(),
		UserID:            row.UserID,
		MessageType:       row.MessageType,
		ScheduledSendTime: row.ScheduledSendTime,
		RetryCount:        row.RetryCount,
		Timestamp:         row.ScheduledSendTime.UnixMilli(),
	}

	routingKey := j.Topology.RoutingKey(row.MessageType)
	if err := j.Publisher.Publish(ctx, routingKey, env); err != nil {
		log.Error("failed to publish envelope",
			slog.String(config.LogKeyMessageID, env.MessageID),
			slog.String(config.LogKeyError, err.Error()),
		)
		stats.Errors++
		return
	}

	if err := j.Store.MarkStatus(ctx, row.ID, eventlog.StatusScheduled, eventlog.StatusQueued); err != nil {
		log.Error("published but failed to mark queued",
			slog.String(config.LogKeyMessageID, env.MessageID),
			slog.String(config.LogKeyError, err.Error()),
		)
		stats.Errors++
		return
	}

	stats.Published++
	if j.Metrics != nil {
		j.Metrics.QueuedTotal.WithLabelValues(row.MessageType).Inc()
	}
}
