// Package bootstrap wires the report pipeline for the API, worker and admin
// binaries from a loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sitereport-api/internal/repository"
	"github.com/noah-isme/sitereport-api/internal/service"
	"github.com/noah-isme/sitereport-api/pkg/cache"
	"github.com/noah-isme/sitereport-api/pkg/config"
	"github.com/noah-isme/sitereport-api/pkg/database"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/notify"
	"github.com/noah-isme/sitereport-api/pkg/storage"
)

// Runtime holds every long-lived dependency of the report pipeline.
type Runtime struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Metrics    *service.MetricsService
	Reports    *repository.ReportRepository
	Sites      *repository.SiteRepository
	Audit      *repository.AuditRepository
	Membership *service.MembershipService
	Aggregator *service.Aggregator
	Renderers  *service.RendererSet
	Store      storage.BlobStore
	Sweeper    storage.Sweeper
	Signer     *storage.SignedURLSigner
	Events     *notify.Publisher
	Job        *service.ReportJob
	Indexer    *service.ReportIndexer
	Tokens     *service.TokenVerifier
	Validator  *validator.Validate

	closers []func()
}

// New connects to the database, cache, artifact store and event bus and builds the
// services on top of them. Redis is optional unless the redis queue driver is
// selected.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Validator: validator.New()}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	rt.DB = db
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	rt.Metrics = service.NewMetricsService()

	var cacheSvc *service.CacheService
	client, err := cache.NewRedis(cfg.Redis)
	switch {
	case err == nil:
		rt.Redis = client
		cacheRepo := repository.NewCacheRepository(client, logger)
		rt.closers = append(rt.closers, func() { _ = cacheRepo.Close() })
		cacheSvc = service.NewCacheService(cacheRepo, rt.Metrics, cfg.Membership.CacheTTL, logger, true)
	case cfg.Reports.QueueDriver == config.QueueDriverRedis:
		rt.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	default:
		logger.Warn("redis unavailable, membership cache disabled", zap.Error(err))
	}

	if err := rt.initStorage(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	events, closeEvents, err := notify.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Events = events
	rt.closers = append(rt.closers, closeEvents)

	rt.Reports = repository.NewReportRepository(db)
	rt.Sites = repository.NewSiteRepository(db)
	rt.Audit = repository.NewAuditRepository(db)
	rt.Membership = service.NewMembershipService(repository.NewMembershipRepository(db), cacheSvc, cfg.Membership.CacheTTL, logger)
	rt.Aggregator = service.NewAggregator(rt.Sites, rt.Metrics, logger)
	rt.Renderers = service.NewRendererSet(cfg.Reports.PDFPreviewLimit)
	rt.Signer = storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	rt.Tokens = service.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	rt.Job = service.NewReportJob(rt.Reports, rt.Aggregator, rt.Renderers, rt.Store, rt.Membership, rt.Events, rt.Metrics, logger, service.ReportJobConfig{
		AggregationTimeout: cfg.Reports.AggregationTimeout,
		StorageTimeout:     cfg.Reports.StorageTimeout,
		StaleAfter:         cfg.Reports.StaleAfter,
	})
	rt.Indexer = service.NewReportIndexer(rt.Reports, cfg.Reports.IndexWindow, rt.Events, rt.Metrics, logger)

	return rt, nil
}

func (rt *Runtime) initStorage(ctx context.Context) error {
	cfg := rt.Config.Reports
	switch cfg.StorageDriver {
	case config.StorageDriverS3:
		store, err := storage.NewS3Store(cfg.S3)
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := store.EnsureBucket(bucketCtx); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
		rt.Store = store
	case config.StorageDriverLocal, "":
		store, err := storage.NewLocalStorage(cfg.StorageDir)
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		rt.Store = store
		rt.Sweeper = store
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
	return nil
}

// Dispatcher returns the job submission surface for the configured queue driver.
// The memory driver runs workers inside this process; the returned stop function
// drains them.
func (rt *Runtime) Dispatcher(ctx context.Context) (jobs.Dispatcher, func(), error) {
	cfg := rt.Config.Reports
	switch cfg.QueueDriver {
	case config.QueueDriverRedis:
		client := asynq.NewClient(rt.RedisOpt())
		dispatcher := jobs.NewAsynqDispatcher(client, cfg.QueueName, cfg.WorkerRetries, 5*time.Second)
		return dispatcher, func() { _ = client.Close() }, nil
	case config.QueueDriverMemory, "":
		queue := jobs.NewQueue(cfg.QueueName, rt.Job.Handle, jobs.QueueConfig{
			Workers:    cfg.WorkerConcurrency,
			MaxRetries: cfg.WorkerRetries,
			Logger:     rt.Logger,
		})
		queue.Start(ctx)
		return queue, queue.Stop, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue driver %q", cfg.QueueDriver)
	}
}

// RedisOpt converts the redis configuration for asynq.
func (rt *Runtime) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", rt.Config.Redis.Host, rt.Config.Redis.Port),
		Password: rt.Config.Redis.Password,
		DB:       rt.Config.Redis.DB,
	}
}

// ReportService builds the intake service on top of queue.
func (rt *Runtime) ReportService(queue jobs.Dispatcher) *service.ReportService {
	return service.NewReportService(rt.Reports, rt.Membership, queue, rt.Job, rt.Sweeper, rt.Signer, rt.Validator, rt.Logger, service.ReportServiceConfig{
		DownloadBasePath: strings.TrimRight(rt.Config.APIPrefix, "/") + "/",
		ArtifactTTL:      rt.Config.Reports.ArtifactTTL,
		CleanupInterval:  rt.Config.Reports.CleanupInterval,
	})
}

// DownloadGateway builds the artifact delivery service.
func (rt *Runtime) DownloadGateway() *service.DownloadGateway {
	return service.NewDownloadGateway(rt.Reports, rt.Membership, rt.Aggregator, rt.Renderers, rt.Store, rt.Signer, rt.Logger)
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
