package sweeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartampluch/greeter-service/internal/broker"
	"github.com/tartampluch/greeter-service/internal/clock"
	"github.com/tartampluch/greeter-service/internal/eventlog"
	"github.com/tartampluch/greeter-service/internal/sweeper"
)

type fakeStore struct {
	missed       []*eventlog.MessageLog
	findErr      error
	gotOlderThan time.Time
	gotStatuses  []eventlog.Status
}

func (f *fakeStore) InsertIfAbsent(context.Context, *eventlog.MessageLog) (bool, error) {
	return false, nil
}
func (f *fakeStore) FindByKey(context.Context, string) (*eventlog.MessageLog, error) { return nil, nil }
func (f *fakeStore) FindByID(context.Context, uuid.UUID) (*eventlog.MessageLog, error) {
	return nil, nil
}
func (f *fakeStore) FindDueBetween(context.Context, time.Time, time.Time, eventlog.Status) ([]*eventlog.MessageLog, error) {
	return nil, nil
}
func (f *fakeStore) FindMissed(_ context.Context, olderThan time.Time, statuses []eventlog.Status) ([]*eventlog.MessageLog, error) {
	f.gotOlderThan = olderThan
	f.gotStatuses = statuses
	return f.missed, f.findErr
}
func (f *fakeStore) MarkStatus(context.Context, uuid.UUID, eventlog.Status, eventlog.Status) error {
	return errors.New("sweeper must never call MarkStatus")
}
func (f *fakeStore) RecordSuccess(context.Context, uuid.UUID, time.Time, int, string) error {
	return nil
}
func (f *fakeStore) RecordFailure(context.Context, uuid.UUID, time.Time, int, string, string, int) error {
	return nil
}

type fakePublisher struct {
	published []broker.Envelope
	failAll   bool
}

func (p *fakePublisher) Publish(_ context.Context, _ string, env broker.Envelope) error {
	if p.failAll {
		return errors.New("publish failed")
	}
	p.published = append(p.published, env)
	return nil
}

func TestJob_Run_RequeuesMissedRows(t *testing.T) {
	now := time.Date(2026, time.May, 15, 13, 0, 0, 0, time.UTC)
	row := &eventlog.MessageLog{
		ID:          uuid.New(),
		UserID:      "alice",
		MessageType: "BIRTHDAY",
		Status:      eventlog.StatusQueued,
	}
	store := &fakeStore{missed: []*eventlog.MessageLog{row}}
	pub := &fakePublisher{}

	job := &sweeper.Job{
		Store:      store,
		Publisher:  pub,
		Clock:      clock.Fixed{At: now},
		Topology:   broker.Topology{RoutingPrefix: "greeting"},
		Grace:      5 * time.Minute,
		BatchLimit: 100,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)
	assert.Equal(t, 0, stats.Errors)
	require.Len(t, pub.published, 1)
	assert.Equal(t, now.Add(-5*time.Minute), store.gotOlderThan)
	assert.ElementsMatch(t, []eventlog.Status{eventlog.StatusScheduled, eventlog.StatusQueued, eventlog.StatusRetrying}, store.gotStatuses)
}

func TestJob_Run_PublishFailureCountsAsError(t *testing.T) {
	row := &eventlog.MessageLog{ID: uuid.New(), MessageType: "ANNIVERSARY"}
	store := &fakeStore{missed: []*eventlog.MessageLog{row}}
	pub := &fakePublisher{failAll: true}

	job := &sweeper.Job{
		Store:     store,
		Publisher: pub,
		Clock:     clock.Fixed{At: time.Now()},
		Topology:  broker.Topology{RoutingPrefix: "greeting"},
		Grace:     time.Minute,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Requeued)
	assert.Equal(t, 1, stats.Errors)
}

func TestJob_Run_PropagatesFindError(t *testing.T) {
	store := &fakeStore{findErr: errors.New("db down")}
	pub := &fakePublisher{}

	job := &sweeper.Job{Store: store, Publisher: pub, Clock: clock.Fixed{At: time.Now()}}

	_, err := job.Run(context.Background())
	assert.Error(t, err)
}

func TestJob_Run_RespectsBatchLimit(t *testing.T) {
	rows := make([]*eventlog.MessageLog, 0, 3)
	for i := 0; i < 3; i++ {
		rows = append(rows, &eventlog.MessageLog{ID: uuid.New(), MessageType: "BIRTHDAY"})
	}
	store := &fakeStore{missed: rows}
	pub := &fakePublisher{}

	job := &sweeper.Job{
		Store:      store,
		Publisher:  pub,
		Clock:      clock.Fixed{At: time.Now()},
		Topology:   broker.Topology{RoutingPrefix: "greeting"},
		BatchLimit: 1,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requeued)
}
