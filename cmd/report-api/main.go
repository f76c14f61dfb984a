package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sitereport-api/api/swagger"
	"github.com/noah-isme/sitereport-api/internal/bootstrap"
	"github.com/noah-isme/sitereport-api/internal/handler"
	"github.com/noah-isme/sitereport-api/internal/middleware"
	"github.com/noah-isme/sitereport-api/internal/models"
	"github.com/noah-isme/sitereport-api/pkg/config"
	"github.com/noah-isme/sitereport-api/pkg/database"
	"github.com/noah-isme/sitereport-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sitereport-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sitereport-api/pkg/middleware/requestid"
)

// @title Site Report API
// @version 1.0.0
// @description Report generation and delivery for construction site records
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "report-api")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to bootstrap", "error", err)
	}
	defer rt.Close()

	if err := database.EnsureSchema(ctx, rt.DB); err != nil {
		logr.Sugar().Fatalw("failed to ensure schema", "error", err)
	}

	queue, stopQueue, err := rt.Dispatcher(ctx)
	if err != nil {
		logr.Sugar().Fatalw("failed to start job queue", "error", err)
	}
	defer stopQueue()

	reports := rt.ReportService(queue)
	if cfg.Reports.QueueDriver != config.QueueDriverRedis {
		if _, err := reports.RecoverPending(ctx); err != nil {
			logr.Sugar().Warnw("failed to recover pending reports", "error", err)
		}
	}
	reports.StartCleanup(ctx)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(rt.Metrics))

	checks := []handler.ReadinessCheck{{Name: "database", Check: rt.DB.PingContext}}
	if rt.Redis != nil {
		checks = append(checks, handler.ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rt.Redis.Ping(ctx).Err()
		}})
	}
	metricsHandler := handler.NewMetricsHandler(rt.Metrics, checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	reportHandler := handler.NewReportHandler(reports, rt.DownloadGateway())
	eventHandler := handler.NewEventHandler(rt.Indexer, rt.Membership, rt.Validator)
	auth := middleware.JWT(rt.Tokens)

	api := r.Group(cfg.APIPrefix)

	orgs := api.Group("/organizations/:orgId", auth, middleware.OrgMember(rt.Membership))
	orgs.POST("/reports", reportHandler.Create)
	orgs.GET("/reports", reportHandler.List)

	api.GET("/reports/download/:token", reportHandler.DownloadByToken)

	reportRoutes := api.Group("/reports", auth)
	reportRoutes.GET("/:id", reportHandler.Get)
	reportRoutes.GET("/:id/download", reportHandler.Download)
	reportRoutes.DELETE("/:id", middleware.Audit(rt.Audit, logr, models.AuditActionReportDelete, "report"), reportHandler.Delete)
	reportRoutes.POST("/:id/retry", middleware.Audit(rt.Audit, logr, models.AuditActionReportRetry, "report"), reportHandler.Retry)

	internal := api.Group("/internal", auth)
	internal.POST("/events/inspection-finalized", eventHandler.InspectionFinalized)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "queue", cfg.Reports.QueueDriver, "storage", cfg.Reports.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
