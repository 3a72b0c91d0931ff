package postgres_test

import (
	"context"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tartampluch/greeter-service/internal/eventlog"
	"github.com/tartampluch/greeter-service/internal/eventlog/postgres"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *postgres.Store
		mock  sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()

		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())

		store = postgres.NewStore(sqlx.NewDb(mockDB, "sqlmock"))
		mock = mockSQL
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("InsertIfAbsent", func() {
		It("returns inserted=true when the insert returns an id", func() {
			row := &eventlog.MessageLog{
				ID:                uuid.New(),
				UserID:            "alice",
				MessageType:       "BIRTHDAY",
				ScheduledSendTime: time.Now(),
				MessageContent:    "Hey, Alice it's your birthday",
				IdempotencyKey:    "alice:BIRTHDAY:2026-05-15:America/New_York",
			}

			mock.ExpectQuery("INSERT INTO message_logs").
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(row.ID))

			inserted, err := store.InsertIfAbsent(ctx, row)
			Expect(err).ToNot(HaveOccurred())
			Expect(inserted).To(BeTrue())
			Expect(row.Status).To(Equal(eventlog.StatusScheduled))
		})

		It("returns inserted=false on ON CONFLICT DO NOTHING (no rows)", func() {
			row := &eventlog.MessageLog{
				UserID:            "alice",
				MessageType:       "BIRTHDAY",
				ScheduledSendTime: time.Now(),
				IdempotencyKey:    "alice:BIRTHDAY:2026-05-15:America/New_York",
			}

			mock.ExpectQuery("INSERT INTO message_logs").
				WillReturnRows(sqlmock.NewRows([]string{"id"}))

			inserted, err := store.InsertIfAbsent(ctx, row)
			Expect(err).ToNot(HaveOccurred())
			Expect(inserted).To(BeFalse())
		})
	})

	Describe("MarkStatus", func() {
		It("succeeds when exactly one row transitions", func() {
			id := uuid.New()
			mock.ExpectExec("UPDATE message_logs SET status").
				WithArgs(eventlog.StatusQueued, id, eventlog.StatusScheduled).
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.MarkStatus(ctx, id, eventlog.StatusScheduled, eventlog.StatusQueued)
			Expect(err).ToNot(HaveOccurred())
		})

		It("returns a conflict error when no row matched the source status", func() {
			id := uuid.New()
			mock.ExpectExec("UPDATE message_logs SET status").
				WithArgs(eventlog.StatusQueued, id, eventlog.StatusScheduled).
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := store.MarkStatus(ctx, id, eventlog.StatusScheduled, eventlog.StatusQueued)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("CONCURRENT_STATUS_CHANGE"))
		})
	})

	Describe("RecordSuccess", func() {
		It("marks the row SENT, the redelivery-safety checkpoint for S7", func() {
			id := uuid.New()
			mock.ExpectExec("UPDATE message_logs").
				WillReturnResult(sqlmock.NewResult(0, 1))

			err := store.RecordSuccess(ctx, id, time.Now(), 200, `{"ok":true}`)
			Expect(err).ToNot(HaveOccurred())
		})
	})
})
