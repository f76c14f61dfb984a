package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/noah-isme/sitereport-api/internal/bootstrap"
	"github.com/noah-isme/sitereport-api/pkg/config"
	"github.com/noah-isme/sitereport-api/pkg/jobs"
	"github.com/noah-isme/sitereport-api/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// The worker only consumes the redis queue; force it so bootstrap requires redis.
	cfg.Reports.QueueDriver = config.QueueDriverRedis

	logr, err := logger.New(cfg, "report-worker")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	rt, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to bootstrap", "error", err)
	}
	defer rt.Close()

	server := jobs.NewAsynqServer(rt.RedisOpt(), cfg.Reports.QueueName, cfg.Reports.WorkerConcurrency, logr)
	mux := jobs.NewAsynqMux(rt.Job.Handle, logr, jobs.TypeGenerateReport)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logr.Sugar().Infow("worker starting", "queue", cfg.Reports.QueueName, "concurrency", cfg.Reports.WorkerConcurrency)
	if err := server.Run(mux); err != nil {
		logr.Sugar().Errorw("worker stopped", "error", err)
		rt.Close()
		os.Exit(1)
	}
}
