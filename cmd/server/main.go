// Command server runs the base locale publication and synchronization
// service: the HTTP API, the periodic sync scheduler and the event outbox
// worker share one process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"

	"github.com/twmb/franz-go/pkg/kgo"

	"balregistry/internal/baselocale/handler"
	"balregistry/internal/baselocale/service"
	"balregistry/internal/baselocale/store"
	"balregistry/internal/deposit"
	"balregistry/internal/event"
	"balregistry/internal/export"
	httpapi "balregistry/internal/http"
	jwttoken "balregistry/internal/jwt_token"
	"balregistry/internal/notify"
	"balregistry/internal/platform/config"
	"balregistry/internal/platform/httpserver"
	"balregistry/internal/platform/logger"
	"balregistry/internal/platform/metrics"
	platformredis "balregistry/internal/platform/redis"
	"balregistry/internal/sync/engine"
	"balregistry/internal/sync/lock"
	syncmetrics "balregistry/internal/sync/metrics"
	"balregistry/internal/sync/scheduler"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage.
	pg, err := store.OpenPostgres(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.EnsureSchema(ctx); err != nil {
		return err
	}

	// Redis is optional; without it the sync lock is process-local.
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Outbound dependencies.
	gateway := deposit.NewHTTPClient(cfg.Deposit.BaseURL, cfg.Deposit.Token)
	notifier := buildNotifier(cfg.SMTP, log)
	exporter := export.NewExporter(pg)

	eventStore := event.NewPostgres(pg.DB())
	publisher := event.NewPublisher(eventStore)

	// Core services.
	engineOpts := []engine.Option{
		engine.WithLogger(log),
		engine.WithMetrics(syncmetrics.New()),
		engine.WithEvents(publisher),
	}
	if redisClient != nil {
		engineOpts = append(engineOpts, engine.WithLocker(lock.NewRedisLocker(redisClient.Client)))
	}
	eng, err := engine.New(pg, gateway, exporter, notifier, engineOpts...)
	if err != nil {
		return err
	}

	svc := service.New(pg, gateway, service.WithLogger(log))

	// HTTP surface.
	jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, "balregistry")
	httpMetrics := metrics.New()
	blHandler := handler.New(svc, eng, log, httpMetrics, jwttoken.NewJWTServiceAdapter(jwtService))

	checkers := map[string]httpapi.HealthChecker{
		"postgres": dbChecker{pg.DB()},
	}
	if redisClient != nil {
		checkers["redis"] = redisClient
	}
	router := httpapi.NewRouter(httpapi.Deps{
		BaseLocales: blHandler,
		Checkers:    checkers,
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	// Background workers.
	sched := scheduler.New(pg, eng,
		scheduler.WithInterval(cfg.Sync.Interval),
		scheduler.WithConcurrency(cfg.Sync.Concurrency),
		scheduler.WithLogger(log))
	go func() { _ = sched.Run(ctx) }()

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.DefaultProduceTopic(event.Topic),
		)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafkaClient.Close()
		if err := event.EnsureTopic(ctx, kafkaClient, 3); err != nil {
			return fmt.Errorf("ensure events topic: %w", err)
		}
		go event.NewWorker(eventStore, kafkaClient, log).Run(ctx)
	} else {
		log.Info("kafka not configured, events stay in the outbox")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := httpserver.Shutdown(srv); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func buildNotifier(cfg config.SMTP, log *slog.Logger) notify.Sender {
	if cfg.Host == "" {
		return notify.LogOnly{Logger: log}
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return notify.NewSMTP(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), cfg.From, auth)
}

type dbChecker struct {
	db *sql.DB
}

func (c dbChecker) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
