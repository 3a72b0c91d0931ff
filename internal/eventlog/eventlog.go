// Package eventlog defines the durable record of every scheduled greeting
// and the state machine that governs its delivery lifecycle, plus the Store
// contract consumed by the precalculator, enqueuer, worker pool, and sweeper.
package eventlog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is one state in the MessageLog lifecycle.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusQueued    Status = "QUEUED"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusRetrying  Status = "RETRYING"
	StatusFailed    Status = "FAILED"
)

// IsTerminal reports whether s is a terminal state the worker never
// transitions out of.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// MessageLog is one row of the durable event log: a single scheduled
// occurrence of a (user, kind, date) event, per §3's data model.
type MessageLog struct {
	ID                uuid.UUID  `db:"id"`
	UserID            string     `db:"user_id"`
	MessageType       string     `db:"message_type"`
	ScheduledSendTime time.Time  `db:"scheduled_send_time"`
	MessageContent    string     `db:"message_content"`
	Status            Status     `db:"status"`
	IdempotencyKey    string     `db:"idempotency_key"`
	RetryCount        int        `db:"retry_count"`
	LastAttemptAt     *time.Time `db:"last_attempt_at"`
	ActualSendTime    *time.Time `db:"actual_send_time"`
	LastErrorCode     *int       `db:"last_error_code"`
	LastErrorBody     *string    `db:"last_error_body"`
	LastErrorMessage  *string    `db:"last_error_message"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// Store is the persistence contract the pipeline depends on. Every state
// transition is a single UPDATE whose WHERE clause includes the source
// status, so lost updates are structurally impossible without any
// user-space locking.
type Store interface {
	InsertIfAbsent(ctx context.Context, row *MessageLog) (inserted bool, err error)
	FindByKey(ctx context.Context, key string) (*MessageLog, error)
	FindByID(ctx context.Context, id uuid.UUID) (*MessageLog, error)
	FindDueBetween(ctx context.Context, start, end time.Time, status Status) ([]*MessageLog, error)
	FindMissed(ctx context.Context, olderThan time.Time, statuses []Status) ([]*MessageLog, error)
	MarkStatus(ctx context.Context, id uuid.UUID, from, to Status) error
	// RecordSuccess transitions a row to SENT, stamping actualSendTime with
	// the moment the delivery API accepted the message and recording the
	// real HTTP status code/body it returned.
	RecordSuccess(ctx context.Context, id uuid.UUID, actualSendTime time.Time, code int, body string) error
	// RecordFailure transitions a row to RETRYING or FAILED, stamping
	// lastAttemptAt with the moment of this attempt and recording the real
	// HTTP status code/body (or 0/"" for a transport-level failure that
	// never got a response).
	RecordFailure(ctx context.Context, id uuid.UUID, lastAttemptAt time.Time, code int, body, errMsg string, maxRetries int) error
}
