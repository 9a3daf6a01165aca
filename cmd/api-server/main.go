package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/mini-hms/internal/api"
	"github.com/hackgods/mini-hms/internal/app"
	"github.com/hackgods/mini-hms/internal/appointment"
	"github.com/hackgods/mini-hms/internal/calendar"
	"github.com/hackgods/mini-hms/internal/config"
	"github.com/hackgods/mini-hms/internal/db"
	"github.com/hackgods/mini-hms/internal/identity"
	"github.com/hackgods/mini-hms/internal/notify"
	redisclient "github.com/hackgods/mini-hms/internal/redis"
	"github.com/hackgods/mini-hms/internal/sideeffect"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := app.NewLogger(cfg.Env)
	defer func() { _ = log.Sync() }()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid clinic timezone", zap.Error(err))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, int32(cfg.PostgresMaxConn))
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		migrator, err := db.NewMigrator(pgPool, log)
		if err != nil {
			log.Fatal("migrator init error", zap.Error(err))
		}
		if err := migrator.Up(rootCtx); err != nil {
			log.Fatal("migration error", zap.Error(err))
		}
		_ = migrator.Close()
	}

	var (
		locker    redisclient.Locker
		redisPing api.PingFunc
	)
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait)
		redisPing = redisclient.Ping(rdb)
		log.Info("connected to Redis")
	} else {
		locker = redisclient.NewLocalSlotLocker()
		log.Info("REDIS_ADDR not set, using in-process slot lock")
	}

	var notifier notify.Notifier
	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			log.Fatal("rabbitmq connection error", zap.Error(err))
		}
		defer conn.Close()

		publisher, err := notify.NewAMQPPublisher(conn, cfg.NotifyQueue, log)
		if err != nil {
			log.Fatal("notification publisher error", zap.Error(err))
		}
		defer publisher.Close()
		notifier = publisher
		log.Info("publishing notifications", zap.String("queue", cfg.NotifyQueue))
	} else {
		notifier = notify.NewLogNotifier(log)
		log.Info("AMQP_URL not set, notifications are only logged")
	}

	var cal calendar.Client = calendar.Noop{}
	if cfg.CalendarEnabled() {
		cal = calendar.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret, calendar.NewPgTokenStore(pgPool), loc, log)
	}

	repo := appointment.NewPgRepository(pgPool)
	dir := identity.NewPgDirectory(pgPool)

	dispatcher := sideeffect.NewDispatcher(sideeffect.Config{
		Workers:   cfg.EffectWorkers,
		QueueSize: cfg.EffectQueueSize,
	}, cal, notifier, dir, repo, loc, log)

	svc := appointment.NewService(repo, locker, dispatcher, dir, appointment.NewSystemClock(loc), log)

	router := api.NewRouter(api.RouterConfig{
		Service:          svc,
		Auth:             identity.NewAuthenticator(cfg.JWTSecret, cfg.TokenTTL),
		Health:           api.NewHealthHandler(pgPool.Ping, redisPing, cfg.Env, version),
		Log:              log,
		BookingRateLimit: cfg.BookingRateLimit,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown error", zap.Error(err))
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Warn("side effects still pending at shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("api-server stopped with error", zap.Error(err))
	}
}
