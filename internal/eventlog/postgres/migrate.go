package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/tartampluch/greeter-service/internal/apperr"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies every pending goose migration embedded in this package.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return apperr.Wrap(err, apperr.TypeConfig, "failed to set goose dialect")
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to run migrations")
	}
	return nil
}

// EnsurePartitions provisions monthly partitions for message_logs covering
// [now, now+monthsAhead], so writers never hit a missing-partition error
// near a month boundary.
func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int) error {
	now := time.Now().UTC()
	for i := 0; i <= monthsAhead; i++ {
		target := now.AddDate(0, i, 0)
		if _, err := s.db.ExecContext(ctx, "SELECT create_message_logs_partition($1)", target); err != nil {
			return apperr.Wrap(err, apperr.TypeTransient, "failed to ensure message_logs partition")
		}
	}
	return nil
}

// DropPartitionsOlderThan is a maintenance query for an operator job, not the
// core pipeline: it drops monthly partitions whose entire range precedes
// cutoff.
func (s *Store) DropPartitionsOlderThan(ctx context.Context, cutoff time.Time) error {
	const listPartitionsSQL = `
SELECT inhrelid::regclass::text
FROM pg_inherits
WHERE inhparent = 'message_logs'::regclass`

	var names []string
	if err := s.db.SelectContext(ctx, &names, listPartitionsSQL); err != nil {
		return apperr.Wrap(err, apperr.TypeTransient, "failed to list message_logs partitions")
	}

	cutoffTag := cutoff.Format("2006_01")
	for _, name := range names {
		if name < fmt.Sprintf("message_logs_%s", cutoffTag) {
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name)); err != nil {
				return apperr.Wrap(err, apperr.TypeTransient, "failed to drop old message_logs partition")
			}
		}
	}
	return nil
}
