package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/config"
	"github.com/septivank/attendance-admission/internal/db"
	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/metrics"
	"github.com/septivank/attendance-admission/internal/mq"
	"github.com/septivank/attendance-admission/internal/repository"
	"github.com/septivank/attendance-admission/internal/service"
	"github.com/septivank/attendance-admission/internal/token"
	"github.com/septivank/attendance-admission/internal/validator"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideClock returns the wall clock
func ProvideClock() clock.Clock {
	return clock.System{}
}

// ProvideMetrics registers the service collectors with the default registry served on /metrics
func ProvideMetrics(cfg *config.Config) (*metrics.Metrics, error) {
	return metrics.New(prometheus.DefaultRegisterer, cfg.Metrics.Namespace)
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL, cfg.Database.AutoMigrate)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *db.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideTokenManager creates the proof token manager
func ProvideTokenManager(repo *repository.Repository, clk clock.Clock, cfg *config.Config, logger *zap.Logger) *token.Manager {
	return token.NewManager(repo, clk, logger, token.WithRefreshAfter(cfg.Token.CacheRefresh))
}

// ProvideMeetingController creates the meeting window controller
func ProvideMeetingController(repo *repository.Repository, tokens *token.Manager, clk clock.Clock, cfg *config.Config, logger *zap.Logger) *meeting.Controller {
	return meeting.NewController(repo, tokens, clk, cfg.Token.Lifetime, logger)
}

// ProvideDeviceStore creates the device binding store
func ProvideDeviceStore(repo *repository.Repository, clk clock.Clock) *device.Store {
	return device.NewStore(repo, clk)
}

// ProvideLedger creates the admission ledger
func ProvideLedger(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) *ledger.Ledger {
	return ledger.NewLedger(repo, clk, logger)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(validator.Bounds{
		MinRadiusMeters:     cfg.Meeting.MinRadiusMeters,
		MaxRadiusMeters:     cfg.Meeting.MaxRadiusMeters,
		DefaultRadiusMeters: cfg.Meeting.DefaultRadiusMeters,
		MinDuration:         cfg.Meeting.MinDuration,
		MaxDuration:         cfg.Meeting.MaxDuration,
		DefaultDuration:     cfg.Meeting.DefaultDuration,
	})
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the audit publisher
func ProvidePublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	return mq.NewPublisher(conn, cfg.RabbitMQ.AuditExchange, cfg.RabbitMQ.AuditRoutingKey, logger)
}

// ProvideAuditEmitter creates the audit emitter and ties it to the lifecycle.
// On stop the emitter drains before the publisher channel is closed.
func ProvideAuditEmitter(lc fx.Lifecycle, publisher *mq.Publisher, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *audit.Emitter {
	emitter := audit.NewEmitter(publisher, audit.EmitterConfig{
		BufferSize:     cfg.Audit.BufferSize,
		MaxRetries:     cfg.Audit.MaxRetries,
		RetryBackoff:   cfg.Audit.RetryBackoff,
		PublishTimeout: cfg.Audit.PublishTimeout,
	}, logger, m)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			emitter.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := emitter.Close(ctx); err != nil {
				logger.Warn("audit emitter did not drain", zap.Error(err))
			}
			return publisher.Close()
		},
	})

	return emitter
}

// ProvideArchiver creates the audit archiver that stores consumed events
func ProvideArchiver(repo *repository.Repository, logger *zap.Logger) *audit.Archiver {
	return audit.NewArchiver(repo, logger)
}

// ProvidePipeline creates the admission pipeline
func ProvidePipeline(
	meetings *meeting.Controller,
	tokens *token.Manager,
	devices *device.Store,
	l *ledger.Ledger,
	emitter *audit.Emitter,
	clk clock.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.Pipeline {
	return service.NewPipeline(meetings, tokens, devices, l, emitter, clk, m, logger)
}

// ProvideAttendanceService creates the attendance service
func ProvideAttendanceService(
	meetings *meeting.Controller,
	tokens *token.Manager,
	repo *repository.Repository,
	devices *device.Store,
	l *ledger.Ledger,
	pipeline *service.Pipeline,
	v *validator.Validator,
	emitter *audit.Emitter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.AttendanceService {
	return service.NewAttendanceService(meetings, tokens, repo, devices, l, repo, pipeline, v, emitter, m, logger)
}

// ProvideScheduler creates the rotation and expiry scheduler
func ProvideScheduler(
	meetings *meeting.Controller,
	tokens *token.Manager,
	clk clock.Clock,
	cfg *config.Config,
	emitter *audit.Emitter,
	m *metrics.Metrics,
	logger *zap.Logger,
) *service.Scheduler {
	return service.NewScheduler(meetings, tokens, clk, service.SchedulerConfig{
		AutoRotate:       cfg.Token.AutoRotate,
		RotationInterval: cfg.Token.RotationInterval,
		SweepInterval:    cfg.Meeting.SweepInterval,
	}, emitter, m, logger)
}

func startScheduler(lc fx.Lifecycle, scheduler *service.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			scheduler.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
}

func startArchiver(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	archiver *audit.Archiver,
	logger *zap.Logger,
) error {
	if !cfg.RabbitMQ.ArchiverEnabled {
		logger.Info("audit archiver disabled")
		return nil
	}

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.AuditQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.AuditExchange,
		BindingKey:    cfg.RabbitMQ.AuditRoutingKey + ".#",
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       archiver.HandleMessage,
	})
	if err != nil {
		return err
	}

	logger.Info("starting audit archiver",
		zap.String("queue", cfg.RabbitMQ.AuditQueue),
		zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
	consumer.RegisterLifecycle(lc)
	return nil
}
