// Package sweeper implements the recovery pass that republishes rows the
// enqueuer or worker pool may have dropped without updating status (a crash
// between publish and MarkStatus, a lost broker confirmation, and so on).
package sweeper

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
	Requeued int
	Errors   int
}

// Publisher is the narrow broker surface sweeper depends on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, env broker.Envelope) error
}

// missedStatuses are the non-terminal states a row can be stuck in long
// enough to need recovery.
var missedStatuses = []eventlog.Status{eventlog.StatusScheduled, eventlog.StatusQueued, eventlog.StatusRetrying}

// Job runs the recovery sweep.
type Job struct {
	Store      eventlog.Store
	Publisher  Publisher
	Clock      clock.Clock
	Topology   broker.Topology
	Grace      time.Duration
	BatchLimit int
	Metrics    *telemetry.Metrics
}

// Run republishes every row older than Grace that is still stuck in a
// non-terminal state, capped at BatchLimit. It never touches row status: the
// worker pool owns every transition out of SCHEDULED/QUEUED/RETRYING, so a
// republish here is purely a second delivery attempt onto the broker.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	now := j.Clock.Now()
	stats := Stats{}

	log := slog.With(slog.String(config.LogKeyComponent, config.CompSweeper))
	log.Info(config.MsgSweepStarted)

	limit := j.BatchLimit
	if limit <= 0 {
		limit = config.DefaultSweepBatch
	}

	missed, err := j.Store.FindMissed(ctx, now.Add(-j.Grace), missedStatuses)
	if err != nil {
		return stats, err
	}
	if len(missed) > limit {
		missed = missed[:limit]
	}

	for _, row := range missed {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		j.requeueOne(ctx, row, &stats, log)
	}

	log.Info(config.MsgSweepFinished,
		slog.Int("requeued", stats.Requeued),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

func (j *Job) requeueOne(ctx context.Context, row *eventlog.MessageLog, stats *Stats, log *slog.Logger) {
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
		log.Error("failed to republish missed message",
			slog.String(config.LogKeyMessageID, env.MessageID),
			slog.String(config.LogKeyStatus, string(row.Status)),
			slog.String(config.LogKeyError, err.Error()),
		)
		stats.Errors++
		return
	}

	log.Warn("requeued missed message",
		slog.String(config.LogKeyMessageID, env.MessageID),
		slog.String(config.LogKeyStatus, string(row.Status)),
	)
	stats.Requeued++
	if j.Metrics != nil {
		j.Metrics.RecoveryRequeuedTotal.Inc()
	}
}
