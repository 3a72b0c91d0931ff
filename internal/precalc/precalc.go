// Package precalc implements the daily pre-calculation job: for each
// registered strategy, enumerate today's candidate users and insert a
// SCHEDULED message log row for every occurrence.
package precalc

import (
	"context"
	"log/slog"
	"time"

	"github.com/tartampluch/greeter-service/internal/clock"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/eventlog"
	"github.com/tartampluch/greeter-service/internal/idempotency"
	"github.com/tartampluch/greeter-service/internal/strategy"
	"github.com/tartampluch/greeter-service/internal/telemetry"
	"github.com/tartampluch/greeter-service/internal/timezone"
	"github.com/tartampluch/greeter-service/internal/users"
)

// Stats summarizes one Run.
type Stats struct {
	Scheduled  int
	Duplicates int
	Errors     int
	ByKind     map[string]int
}

// Job runs the daily pre-calculation sweep.
type Job struct {
	Store    eventlog.Store
	Users    users.Source
	Registry *strategy.Registry
	Clock    clock.Clock
	Metrics  *telemetry.Metrics
}

// Run enumerates candidate users per registered strategy and schedules one
// message log row per occurrence. Per-user errors are isolated — a single
// bad row never aborts the run, the same "log and continue" shape the
// teacher's generateCalendar applies to malformed vCards.
func (j *Job) Run(ctx context.Context) (Stats, error) {
	now := j.Clock.Now()
	stats := Stats{ByKind: make(map[string]int)}

	log := slog.With(slog.String(config.LogKeyComponent, config.CompPrecalc))
	log.Info(config.MsgPrecalcStarted)

	for _, s := range j.Registry.All() {
		candidates, err := j.candidates(ctx, s)
		if err != nil {
			log.Error("failed to enumerate candidates", slog.String(config.LogKeyKind, s.Kind()), slog.String(config.LogKeyError, err.Error()))
			stats.Errors++
			continue
		}

		for _, u := range candidates {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			j.scheduleOne(ctx, s, u, now, &stats, log)
		}
	}

	log.Info(config.MsgPrecalcFinished,
		slog.Int("scheduled", stats.Scheduled),
		slog.Int("duplicates", stats.Duplicates),
		slog.Int("errors", stats.Errors),
	)
	return stats, nil
}

// candidates enumerates users for s, preferring the specialized
// FindBirthdaysToday/FindAnniversariesToday lookups for the two built-in
// kinds and falling back to FindAll+ShouldSend for any other registered
// strategy.
func (j *Job) candidates(ctx context.Context, s strategy.Strategy) ([]users.User, error) {
	switch s.Kind() {
	case strategy.KindBirthday:
		return j.Users.FindBirthdaysToday(ctx, nil)
	case strategy.KindAnniversary:
		return j.Users.FindAnniversariesToday(ctx, nil)
	default:
		sched := s.GetSchedule()
		filter := users.Filter{}
		if sched.TriggerField == "BirthdayDate" {
			filter.RequireBirthday = true
		} else if sched.TriggerField == "AnniversaryDate" {
			filter.RequireAnniversary = true
		}

		all, err := j.Users.FindAll(ctx, filter)
		if err != nil {
			return nil, err
		}

		now := j.Clock.Now()
		var out []users.User
		for _, u := range all {
			should, err := s.ShouldSend(u, now)
			if err != nil || !should {
				continue
			}
			out = append(out, u)
		}
		return out, nil
	}
}

func (j *Job) scheduleOne(ctx context.Context, s strategy.Strategy, u users.User, now time.Time, stats *Stats, log *slog.Logger) {
	kind := s.Kind()

	res := s.Validate(u)
	for _, w := range res.Warnings {
		log.Warn(w, slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyKind, kind))
	}
	if !res.Valid {
		log.Info(config.MsgValidationSkip, slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyKind, kind))
		return
	}

	loc, err := timezone.LoadZone(u.Timezone)
	if err != nil {
		log.Error("invalid timezone", slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyError, err.Error()))
		stats.Errors++
		return
	}

	anchor, ok := s.AnchorDate(u)
	if !ok {
		log.Debug("no anchor date set for this strategy's trigger field, skipping", slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyKind, kind))
		return
	}

	occurrenceDate := timezone.CelebrationDate(anchor, now.In(loc).Year(), loc)
	sendTime, err := s.CalculateSendTime(u, occurrenceDate)
	if err != nil {
		log.Error("failed to calculate send time", slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyError, err.Error()))
		stats.Errors++
		return
	}

	content, err := s.ComposeMessage(u, strategy.Context{Now: now, OccurrenceDate: occurrenceDate, Zone: u.Timezone})
	if err != nil {
		log.Error("failed to compose message", slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyError, err.Error()))
		stats.Errors++
		return
	}

	key := idempotency.Key(u.ID, kind, occurrenceDate.Format("2006-01-02"), u.Timezone)
	row := &eventlog.MessageLog{
		UserID:            u.ID,
		MessageType:       kind,
		ScheduledSendTime: sendTime,
		MessageContent:    content,
		IdempotencyKey:    key,
	}

	inserted, err := j.Store.InsertIfAbsent(ctx, row)
	if err != nil {
		log.Error("failed to insert message log", slog.String(config.LogKeyUserID, u.ID), slog.String(config.LogKeyError, err.Error()))
		stats.Errors++
		return
	}
	if !inserted {
		log.Debug(config.MsgDuplicateSkip, slog.String(config.LogKeyKey, key))
		stats.Duplicates++
		if j.Metrics != nil {
			j.Metrics.DuplicateTotal.WithLabelValues(kind).Inc()
		}
		return
	}

	stats.Scheduled++
	stats.ByKind[kind]++
	if j.Metrics != nil {
		j.Metrics.ScheduledTotal.WithLabelValues(kind).Inc()
	}
}
