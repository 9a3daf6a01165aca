package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/app"
	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/config"
	"github.com/hackgods/mini-hms/internal/db"
	"github.com/hackgods/mini-hms/internal/identity"
	redisclient "github.com/hackgods/mini-hms/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	log.Info("cleanup-worker starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.WorkerInterval))

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid clinic timezone", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 2)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// cleanup never takes slot locks; the locker is only there to satisfy the
	// service
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewLocalSlotLocker(),
		nil,
		identity.NewPgDirectory(pgPool),
		appointment.NewSystemClock(loc),
		log,
	)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping cleanup worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CleanupStaleSlots(runCtx)
	if err != nil {
		log.Error("cleanup run error", zap.Error(err))
		return
	}
	log.Debug("cleanup run complete", zap.Int64("deleted", n), zap.Duration("took", time.Since(start)))
}
