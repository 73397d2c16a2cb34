package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/booking-engine/internal/appointment"
	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/db"
	"github.com/hackgods/booking-engine/internal/lock"
	"github.com/hackgods/booking-engine/internal/logger"
	"github.com/hackgods/booking-engine/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	lg, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.String("schedule", cfg.WorkerSchedule),
		zap.Int("batch_size", cfg.WorkerBatchSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	cancelPg()
	if err != nil {
		lg.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	lg.Info("connected to Postgres")

	// Completion only takes the professional row lock; the reservation
	// locker is never used on this path.
	repo := appointment.NewPgRepository(pgPool, cfg.DBLockTimeout)
	svc := appointment.NewService(repo, lock.NewKeyedMutex(cfg.LockWait), cfg, lg.Named("appointment"), metrics.New())

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.WorkerSchedule, func() { runOnce(rootCtx, svc, lg) }); err != nil {
		lg.Fatal("invalid WORKER_SCHEDULE", zap.String("schedule", cfg.WorkerSchedule), zap.Error(err))
	}

	runOnce(rootCtx, svc, lg)
	c.Start()

	<-rootCtx.Done()
	lg.Info("shutdown signal received, stopping completion worker")

	<-c.Stop().Done()
	lg.Info("completion-worker stopped")
}

func runOnce(ctx context.Context, svc *appointment.Service, lg *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompletePastAppointments(runCtx)
	if err != nil {
		lg.Error("completion run error", zap.Error(err))
		return
	}
	lg.Info("completion run complete", zap.Int("completed", n), zap.Duration("duration", time.Since(start)))
}
