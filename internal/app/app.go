// Package app wires every component built under internal/ into a single
// running process: the event log store, broker topology, strategy registry,
// resilience envelope, the three cron-driven jobs, the worker pool, and the
// health/readiness/metrics server. It mirrors the teacher's run() function in
// cmd/go-birthday/main.go — one place that constructs the dependency graph
// and hands the result to the caller's lifecycle loop — generalized from
// wiring a single Fyne UI controller to wiring a multi-component pipeline.
package app

import (
	"context"
	"database/sql"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/broker"
	"github.com/tartampluch/greeter-service/internal/clock"
	"github.com/tartampluch/greeter-service/internal/config"
	"github.com/tartampluch/greeter-service/internal/delivery"
	"github.com/tartampluch/greeter-service/internal/enqueuer"
	"github.com/tartampluch/greeter-service/internal/eventlog/postgres"
	"github.com/tartampluch/greeter-service/internal/precalc"
	"github.com/tartampluch/greeter-service/internal/resilience"
	"github.com/tartampluch/greeter-service/internal/scheduler"
	"github.com/tartampluch/greeter-service/internal/server"
	"github.com/tartampluch/greeter-service/internal/strategy"
	"github.com/tartampluch/greeter-service/internal/sweeper"
	"github.com/tartampluch/greeter-service/internal/telemetry"
	"github.com/tartampluch/greeter-service/internal/users"
	"github.com/tartampluch/greeter-service/internal/worker"
)

// App owns every long-lived resource the process holds: the DB pool, the
// broker connection/channels, and the components built on top of them.
// Close releases all of it in reverse-acquisition order.
type App struct {
	cfg *config.Config

	sqlDB    *sql.DB
	amqpConn *amqp.Connection
	amqpCh   *amqp.Channel

	Store      *postgres.Store
	Scheduler  *scheduler.Scheduler
	WorkerPool *worker.Pool
	Server     *server.Server
}

// dbChecker adapts *sql.DB to server.Checker.
type dbChecker struct{ db *sql.DB }

func (c dbChecker) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// brokerChecker adapts *amqp.Connection to server.Checker.
type brokerChecker struct{ conn *amqp.Connection }

func (c brokerChecker) Ping(context.Context) error {
	if c.conn == nil || c.conn.IsClosed() {
		return apperr.New(apperr.TypeTransient, "broker connection is closed")
	}
	return nil
}

// New builds the full dependency graph from cfg: opens the database pool,
// runs migrations, provisions upcoming message_logs partitions, dials the
// broker and declares its topology, registers the birthday and anniversary
// strategies, and assembles the scheduler, worker pool, and HTTP server.
// Callers are responsible for calling Run and, on shutdown, Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	sqlDB, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to open database")
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to reach database")
	}

	if err := postgres.Migrate(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := postgres.NewStore(sqlx.NewDb(sqlDB, "pgx"))
	if err := store.EnsurePartitions(ctx, config.DefaultPartitionMonthsAhead); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	amqpConn, err := amqp.Dial(cfg.Broker.URL)
	if err != nil {
		_ = sqlDB.Close()
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to dial broker")
	}
	amqpCh, err := amqpConn.Channel()
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, apperr.Wrap(err, apperr.TypeTransient, "failed to open broker channel")
	}

	topology := broker.Topology{
		Exchange:           cfg.Broker.Exchange,
		DeadLetterExchange: cfg.Broker.DeadLetterExchange,
		Queue:              cfg.Broker.Queue,
		DeadLetterQueue:    cfg.Broker.DeadLetterQueue,
		RoutingPrefix:      cfg.Broker.RoutingPrefix,
		Replicas:           cfg.Broker.QueueReplicas,
	}
	if err := broker.DeclareTopology(amqpCh, topology); err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	publisher, err := broker.NewPublisher(amqpCh, topology.Exchange)
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}
	consumer, err := broker.NewConsumer(amqpCh, topology.Queue, cfg.Broker.Prefetch)
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	lease, err := newRedisLease(cfg.RedisURL)
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	usersSource, err := users.NewHTTPSource(cfg.Users)
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	deliveryClient, err := delivery.NewHTTPClient(cfg.Delivery)
	if err != nil {
		_ = amqpConn.Close()
		_ = sqlDB.Close()
		return nil, err
	}

	registry := strategy.NewRegistry()
	registry.Register(strategy.NewBirthday())
	registry.Register(strategy.NewAnniversary())

	metrics := telemetry.New(prometheus.DefaultRegisterer)
	realClock := clock.Real{}
	envelope := resilience.New(resilience.FromAppConfig(cfg))

	precalcJob := &precalc.Job{
		Store:    store,
		Users:    usersSource,
		Registry: registry,
		Clock:    realClock,
		Metrics:  metrics,
	}
	enqueuerJob := &enqueuer.Job{
		Store:      store,
		Publisher:  publisher,
		Clock:      realClock,
		Topology:   topology,
		LookAhead:  cfg.Queue.EnqueueLookAhead,
		BatchLimit: cfg.Queue.EnqueueBatch,
		Metrics:    metrics,
	}
	sweeperJob := &sweeper.Job{
		Store:      store,
		Publisher:  publisher,
		Clock:      realClock,
		Topology:   topology,
		Grace:      cfg.Queue.SweepGrace,
		BatchLimit: cfg.Queue.SweepBatch,
		Metrics:    metrics,
	}

	sched := scheduler.New(lease, metrics)
	if err := sched.Register(scheduler.Job{
		Name: "precalc", Schedule: cfg.Cron.Daily, Run: func(ctx context.Context) error { _, err := precalcJob.Run(ctx); return err }, LeaseTTL: config.DefaultShutdownTimeout,
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to register precalc job")
	}
	if err := sched.Register(scheduler.Job{
		Name: "enqueuer", Schedule: cfg.Cron.Minute, Run: func(ctx context.Context) error { _, err := enqueuerJob.Run(ctx); return err }, LeaseTTL: config.DefaultShutdownTimeout,
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to register enqueuer job")
	}
	if err := sched.Register(scheduler.Job{
		Name: "sweeper", Schedule: cfg.Cron.Recovery, Run: func(ctx context.Context) error { _, err := sweeperJob.Run(ctx); return err }, LeaseTTL: config.DefaultShutdownTimeout,
	}); err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "failed to register sweeper job")
	}

	pool := &worker.Pool{
		Consumer:    consumer,
		Store:       store,
		Users:       usersSource,
		Delivery:    deliveryClient,
		Envelope:    envelope,
		MaxRetries:  cfg.Queue.MaxRetries,
		Concurrency: cfg.Queue.Concurrency,
		Metrics:     metrics,
	}

	srv := server.New(cfg.Server.Port, map[string]server.Checker{
		"database": dbChecker{db: sqlDB},
		"broker":   brokerChecker{conn: amqpConn},
	})

	return &App{
		cfg:        cfg,
		sqlDB:      sqlDB,
		amqpConn:   amqpConn,
		amqpCh:     amqpCh,
		Store:      store,
		Scheduler:  sched,
		WorkerPool: pool,
		Server:     srv,
	}, nil
}

// Run starts the scheduler, worker pool, and HTTP server, blocking until ctx
// is cancelled or any component returns a fatal error. It mirrors the
// teacher's main.go lifecycle bridge: a context that cancels on SIGINT/SIGTERM
// drives every component's shutdown.
func (a *App) Run(ctx context.Context) error {
	a.Scheduler.Start()
	defer a.Scheduler.Stop(context.Background())

	errCh := make(chan error, 2)

	go func() {
		errCh <- a.WorkerPool.Run(ctx)
	}()
	go func() {
		errCh <- a.Server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases the database pool and broker connection.
func (a *App) Close() error {
	var firstErr error
	if a.amqpCh != nil {
		if err := a.amqpCh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.amqpConn != nil {
		if err := a.amqpConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func newRedisLease(url string) (*scheduler.RedisLease, error) {
	if url == "" {
		return nil, apperr.New(apperr.TypeConfig, "REDIS_URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "invalid REDIS_URL")
	}
	return scheduler.NewRedisLease(redis.NewClient(opts)), nil
}
