package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/config"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/postgres"
	notifications "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/worker"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/email"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/messaging/redis"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/worker"
)

func setupHealthCheck(port int, reg *prometheus.Registry, broker *redis.RedisBroker, appLogger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := broker.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("The worker requires the postgres driver")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Console || cfg.IsDevelopment(),
	})
	appLogger.SetGlobal()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	outboxRepo := postgres.NewOutboxRepository(db)

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Redis broker")
	}
	defer broker.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("psicologos", reg)

	processor, err := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryDelay:   cfg.Outbox.RetryDelay,
	}, appLogger, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create outbox processor")
	}

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})

	// Reminders
	var reminders notifications.ReminderScheduler
	var taskServer *asynq.Server
	if cfg.Reminder.Enabled {
		redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid Redis URL for reminders")
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		inspector := asynq.NewInspector(redisOpt)
		defer inspector.Close()

		reminders = notifications.NewAsynqReminders(client, inspector, notifications.ReminderConfig{
			Queue:    cfg.Reminder.Queue,
			Before:   cfg.Reminder.Before,
			Location: loc,
		})

		taskServer = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Reminder.Concurrency,
			Queues:      map[string]int{cfg.Reminder.Queue: 1},
			Logger:      notifications.NewAsynqLogger(appLogger.ZL),
		})
		mux := notifications.NewServeMux(notifications.NewReminderHandler(sender, appLogger, m))
		if err := taskServer.Start(mux); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reminder server")
		}
	}

	n := notifications.NewNotifier(broker, sender, reminders, appLogger, m)

	cleanup := worker.NewOutboxCleanup(outboxRepo, cfg.Outbox.Retention, appLogger, m)
	scheduler := cron.New(cron.WithLocation(loc))
	if _, err := cleanup.Schedule(ctx, scheduler, cfg.Outbox.CleanupCron); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule outbox cleanup")
	}
	scheduler.Start()

	health := setupHealthCheck(cfg.Worker.HealthPort, reg, broker, appLogger)

	go processor.Start(ctx)
	go func() {
		if err := n.Start(ctx); err != nil {
			appLogger.Error(err, "Notifier stopped")
			stop()
		}
	}()

	log.Info().Msg("Worker started")
	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	<-scheduler.Stop().Done()
	if taskServer != nil {
		taskServer.Shutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Health server forced to shutdown")
	}
}
