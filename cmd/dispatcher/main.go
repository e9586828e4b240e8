package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/rabbitmq"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/observability"
	"github.com/aliskhannn/notification-dispatcher/internal/api/handlers/webhook"
	"github.com/aliskhannn/notification-dispatcher/internal/api/router"
	"github.com/aliskhannn/notification-dispatcher/internal/api/server"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	notiftask "github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/handlers/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
	"github.com/aliskhannn/notification-dispatcher/internal/ratelimit"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
	notifsvc "github.com/aliskhannn/notification-dispatcher/internal/service/notification"
	"github.com/aliskhannn/notification-dispatcher/internal/worker"
	"github.com/aliskhannn/notification-dispatcher/pkg/provider"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zlog.Init()
	cfg := config.Must()
	val := validator.New()

	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL(), cfg.RabbitMQ.Retries, cfg.RabbitMQ.Pause)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to open channel")
	}

	q, err := queue.NewDispatchQueue(ch)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create dispatch queue")
	}

	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	repo := notifrepo.NewRepository(db)

	dbNum, err := strconv.Atoi(cfg.Redis.Database)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to parse redis database")
	}

	rdb := redis.New(cfg.Redis.Address, cfg.Redis.Password, dbNum)

	if err = rdb.Ping(ctx).Err(); err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	limiter := ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.MaxPerSecondPerChannel, cfg.RateLimit.LockTimeout)
	providerClient := provider.NewClient(cfg.Provider.URL, cfg.Provider.Timeout)

	service := notifsvc.NewService(repo, q, limiter, providerClient, rdb)

	notifHandler := notification.NewHandler(service, val, cfg)
	obsHandler := observability.NewHandler(service, map[string]observability.Check{
		"database": func(ctx context.Context) error { return db.Master.PingContext(ctx) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	webhookHandler := webhook.NewHandler()

	taskHandler := notiftask.NewHandler(service, q)
	dispatcher := worker.NewDispatcher(q, taskHandler)

	go dispatcher.Run(ctx, cfg.Retry, cfg.Workers.Count)

	r := router.New(notifHandler, obsHandler, webhookHandler)
	s := server.New(cfg.Server.HTTPPort, r)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	zlog.Logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}

	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}

	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	if err := ch.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ channel")
	}

	if err := conn.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close RabbitMQ connection")
	}
}
