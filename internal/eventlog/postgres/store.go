package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/eventlog"
)

// defaultBatchLimit bounds FindDueBetween/FindMissed result sizes. The limit
// is fixed; there is no per-call override.
const defaultBatchLimit = 200

// Store implements eventlog.Store against PostgreSQL, using sqlx over the
// pgx/v5 stdlib adapter for pooled connections and struct scanning.
type Store struct {
	db *sqlx.DB
}

// Open connects to cfg's database and sizes the pool per cfg, mirroring
// jordigilh-kubernaut/internal/database's Config sizing fields.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "invalid database config")
	}

	sqlDB, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to open database")
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to reach database")
	}

	return &Store{db: sqlx.NewDb(sqlDB, "pgx")}, nil
}

// NewStore wraps an already-open sqlx.DB, for tests and callers that manage
// their own pool lifecycle (go-sqlmock in particular, per
// jordigilh-kubernaut's repository test pattern).
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const insertIfAbsentSQL = `
INSERT INTO message_logs
	(id, user_id, message_type, scheduled_send_time, message_content, status, idempotency_key, retry_count, created_at, updated_at)
VALUES
	($1, $2, $3, $4, $5, $6, $7, 0, now(), now())
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING id`

// InsertIfAbsent inserts row if its idempotency key is unseen. A conflict
// (inserted=false) is the expected, non-error outcome of a race between
// concurrent pre-calculation attempts (§4.B) — callers never treat it as a
// hard failure.
func (s *Store) InsertIfAbsent(ctx context.Context, row *eventlog.MessageLog) (bool, error) {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}

	var returnedID uuid.UUID
	err := s.db.QueryRowxContext(ctx, insertIfAbsentSQL,
		row.ID, row.UserID, row.MessageType, row.ScheduledSendTime,
		row.MessageContent, eventlog.StatusScheduled, row.IdempotencyKey,
	).Scan(&returnedID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, apperr.TypeTransient, "failed to insert message log")
	}
	row.ID = returnedID
	row.Status = eventlog.StatusScheduled
	return true, nil
}

const findByKeySQL = `SELECT * FROM message_logs WHERE idempotency_key = $1`

func (s *Store) FindByKey(ctx context.Context, key string) (*eventlog.MessageLog, error) {
	var m eventlog.MessageLog
	err := s.db.GetContext(ctx, &m, findByKeySQL, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to query message log by key")
	}
	return &m, nil
}

const findDueBetweenSQL = `
SELECT * FROM message_logs
WHERE status = $1 AND scheduled_send_time >= $2 AND scheduled_send_time < $3
ORDER BY scheduled_send_time ASC
LIMIT $4`

func (s *Store) FindDueBetween(ctx context.Context, start, end time.Time, status eventlog.Status) ([]*eventlog.MessageLog, error) {
	var out []*eventlog.MessageLog
	err := s.db.SelectContext(ctx, &out, findDueBetweenSQL, status, start, end, defaultBatchLimit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to query due message logs")
	}
	return out, nil
}

const findMissedSQL = `
SELECT * FROM message_logs
WHERE status = ANY($1) AND scheduled_send_time < $2
ORDER BY scheduled_send_time ASC
LIMIT $3`

func (s *Store) FindMissed(ctx context.Context, olderThan time.Time, statuses []eventlog.Status) ([]*eventlog.MessageLog, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	var out []*eventlog.MessageLog
	err := s.db.SelectContext(ctx, &out, findMissedSQL, names, olderThan, defaultBatchLimit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to query missed message logs")
	}
	return out, nil
}

const markStatusSQL = `UPDATE message_logs SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`

// MarkStatus performs the guarded state transition: the WHERE clause checks
// the source status, so a concurrent writer that already moved the row
// cannot be clobbered (§5's "no lost updates" guarantee).
func (s *Store) MarkStatus(ctx context.Context, id uuid.UUID, from, to eventlog.Status) error {
	res, err := s.db.ExecContext(ctx, markStatusSQL, to, id, from)
	if err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to mark message log status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to read rows affected")
	}
	if n != 1 {
		return apperr.New(apperr.TypeConflict, "CONCURRENT_STATUS_CHANGE").
			WithDetailsf("row %s was not in expected status %s", id, from)
	}
	return nil
}

const recordSuccessSQL = `
UPDATE message_logs
SET status = $1, last_attempt_at = $2, actual_send_time = $2, last_error_code = $3, last_error_body = $4, updated_at = now()
WHERE id = $5 AND status != $1`

func (s *Store) RecordSuccess(ctx context.Context, id uuid.UUID, actualSendTime time.Time, code int, body string) error {
	res, err := s.db.ExecContext(ctx, recordSuccessSQL, eventlog.StatusSent, actualSendTime, code, body, id)
	if err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to record delivery success")
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return apperr.New(apperr.TypeConflict, "ALREADY_SENT").WithDetailsf("row %s already terminal", id)
	}
	return nil
}

const recordFailureRetrySQL = `
UPDATE message_logs
SET status = $1, retry_count = retry_count + 1, last_attempt_at = $2, last_error_code = $3, last_error_body = $4, last_error_message = $5, updated_at = now()
WHERE id = $6 AND status != $7`

const recordFailureExhaustedSQL = `
UPDATE message_logs
SET status = $1, retry_count = retry_count + 1, last_attempt_at = $2, last_error_code = $3, last_error_body = $4, last_error_message = $5, updated_at = now()
WHERE id = $6 AND status != $1`

// RecordFailure transitions the row to RETRYING (if under maxRetries) or
// FAILED (retries exhausted), incrementing retry_count and stamping
// last_attempt_at atomically alongside the status change.
func (s *Store) RecordFailure(ctx context.Context, id uuid.UUID, lastAttemptAt time.Time, code int, body, errMsg string, maxRetries int) error {
	current, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return apperr.New(apperr.TypeNotFound, "MESSAGE_LOG_NOT_FOUND").WithDetailsf("id %s", id)
	}

	var res sql.Result
	if current.RetryCount+1 >= maxRetries {
		res, err = s.db.ExecContext(ctx, recordFailureExhaustedSQL, eventlog.StatusFailed, lastAttemptAt, code, body, errMsg, id)
	} else {
		res, err = s.db.ExecContext(ctx, recordFailureRetrySQL, eventlog.StatusRetrying, lastAttemptAt, code, body, errMsg, id, eventlog.StatusSent)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to record delivery failure")
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return apperr.New(apperr.TypeConflict, "ALREADY_TERMINAL").WithDetailsf("row %s already terminal", id)
	}
	return nil
}

const findByIDSQL = `SELECT * FROM message_logs WHERE id = $1`

// FindByID loads a row by primary key, used by the worker pool to check the
// current status of an in-flight message before acting on it.
func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*eventlog.MessageLog, error) {
	var m eventlog.MessageLog
	err := s.db.GetContext(ctx, &m, findByIDSQL, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to query message log by id")
	}
	return &m, nil
}
