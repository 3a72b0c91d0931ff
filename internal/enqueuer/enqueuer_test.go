package enqueuer_test

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
	"github.com/tartampluch/greeter-service/internal/enqueuer"
	"github.com/tartampluch/greeter-service/internal/eventlog"
)

type fakeStore struct {
	due         []*eventlog.MessageLog
	findErr     error
	marked      map[uuid.UUID]eventlog.Status
	markErr     error
	markErrOnce bool
}

func newFakeStore(due []*eventlog.MessageLog) *fakeStore {
	return &fakeStore{due: due, marked: make(map[uuid.UUID]eventlog.Status)}
}

func (f *fakeStore) InsertIfAbsent(context.Context, *eventlog.MessageLog) (bool, error) {
	return false, nil
}
func (f *fakeStore) FindByKey(context.Context, string) (*eventlog.MessageLog, error) { return nil, nil }
func (f *fakeStore) FindByID(context.Context, uuid.UUID) (*eventlog.MessageLog, error) {
	return nil, nil
}
func (f *fakeStore) FindDueBetween(context.Context, time.Time, time.Time, eventlog.Status) ([]*eventlog.MessageLog, error) {
	return f.due, f.findErr
}
func (f *fakeStore) FindMissed(context.Context, time.Time, []eventlog.Status) ([]*eventlog.MessageLog, error) {
	return nil, nil
}
func (f *fakeStore) MarkStatus(_ context.Context, id uuid.UUID, from, to eventlog.Status) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.marked[id] = to
	return nil
}
func (f *fakeStore) RecordSuccess(context.Context, uuid.UUID, time.Time, int, string) error {
	return nil
}
func (f *fakeStore) RecordFailure(context.Context, uuid.UUID, time.Time, int, string, string, int) error {
	return nil
}

type fakePublisher struct {
	published []broker.Envelope
	failFor   map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, _ string, env broker.Envelope) error {
	if p.failFor[env.MessageID] {
		return errors.New("publish failed")
	}
	p.published = append(p.published, env)
	return nil
}

func sampleRow(id uuid.UUID, sendTime time.Time) *eventlog.MessageLog {
	return &eventlog.MessageLog{
		ID:                id,
		UserID:            "alice",
		MessageType:       "BIRTHDAY",
		ScheduledSendTime: sendTime,
		Status:            eventlog.StatusScheduled,
	}
}

func TestJob_Run_PublishesDueRowsAndMarksQueued(t *testing.T) {
	now := time.Date(2026, time.May, 15, 12, 30, 0, 0, time.UTC)
	id := uuid.New()
	store := newFakeStore([]*eventlog.MessageLog{sampleRow(id, now.Add(10 * time.Minute))})
	pub := &fakePublisher{failFor: map[string]bool{}}

	job := &enqueuer.Job{
		Store:      store,
		Publisher:  pub,
		Clock:      clock.Fixed{At: now},
		Topology:   broker.Topology{RoutingPrefix: "greeting"},
		LookAhead:  time.Hour,
		BatchLimit: 100,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, 0, stats.Errors)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "greeting.BIRTHDAY", "greeting."+pub.published[0].MessageType)
	assert.Equal(t, eventlog.StatusQueued, store.marked[id])
}

func TestJob_Run_PublishFailureLeavesRowUntouched(t *testing.T) {
	now := time.Date(2026, time.May, 15, 12, 30, 0, 0, time.UTC)
	id := uuid.New()
	store := newFakeStore([]*eventlog.MessageLog{sampleRow(id, now.Add(10 * time.Minute))})
	pub := &fakePublisher{failFor: map[string]bool{id.String(): true}}

	job := &enqueuer.Job{
		Store:      store,
		Publisher:  pub,
		Clock:      clock.Fixed{At: now},
		Topology:   broker.Topology{RoutingPrefix: "greeting"},
		LookAhead:  time.Hour,
		BatchLimit: 100,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Published)
	assert.Equal(t, 1, stats.Errors)
	_, marked := store.marked[id]
	assert.False(t, marked)
}

func TestJob_Run_RespectsBatchLimit(t *testing.T) {
	now := time.Date(2026, time.May, 15, 12, 30, 0, 0, time.UTC)
	rows := make([]*eventlog.MessageLog, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, sampleRow(uuid.New(), now.Add(10*time.Minute)))
	}
	store := newFakeStore(rows)
	pub := &fakePublisher{failFor: map[string]bool{}}

	job := &enqueuer.Job{
		Store:      store,
		Publisher:  pub,
		Clock:      clock.Fixed{At: now},
		Topology:   broker.Topology{RoutingPrefix: "greeting"},
		LookAhead:  time.Hour,
		BatchLimit: 2,
	}

	stats, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Published)
}

func TestJob_Run_PropagatesFindError(t *testing.T) {
	store := newFakeStore(nil)
	store.findErr = errors.New("db down")
	pub := &fakePublisher{}

	job := &enqueuer.Job{
		Store:     store,
		Publisher: pub,
		Clock:     clock.Fixed{At: time.Now()},
		Topology:  broker.Topology{RoutingPrefix: "greeting"},
		LookAhead: time.Hour,
	}

	_, err := job.Run(context.Background())
	assert.Error(t, err)
}
