package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/config"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler"
	appointmentHandler "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler/appointment"
	psychologistHandler "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/handler/psychologist"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/middleware"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/memory"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/repository/postgres"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/internal/router"
	appointmentService "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/appointment"
	availabilityService "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/availability"
	scheduleService "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/service/schedule"
	notifier "github.com/OwensLopez211/PsicologosAPv1-sub002/internal/worker"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/auth"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/email"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/logger"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/messaging"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/metrics"
	"github.com/OwensLopez211/PsicologosAPv1-sub002/pkg/worker"
)

type repositories struct {
	schedules    repository.ScheduleRepository
	appointments repository.AppointmentRepository
	outbox       repository.OutboxRepository
	checks       map[string]handler.Pinger
	close        func() error
}

func openRepositories(ctx context.Context, cfg config.DatabaseConfig) (*repositories, error) {
	if cfg.Driver == "memory" {
		store := memory.NewStore()
		return &repositories{
			schedules:    store.Schedules(),
			appointments: store.Appointments(),
			outbox:       store.Outbox(),
			close:        func() error { return nil },
		}, nil
	}

	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &repositories{
		schedules:    postgres.NewScheduleRepository(db),
		appointments: postgres.NewAppointmentRepository(db),
		outbox:       postgres.NewOutboxRepository(db),
		checks:       map[string]handler.Pinger{"database": pingDB(db)},
		close:        db.Close,
	}, nil
}

func pingDB(db *sqlx.DB) handler.PingFunc {
	return func(ctx context.Context) error { return db.PingContext(ctx) }
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Console: cfg.Log.Console || cfg.IsDevelopment(),
	})
	appLogger.SetGlobal()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer repos.close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("psicologos", reg)

	// Services
	slotSvc := availabilityService.NewService(repos.schedules, repos.appointments, availabilityService.Config{
		Location:      loc,
		LookaheadDays: cfg.Booking.LookaheadDays,
	}, m)
	scheduleSvc := scheduleService.NewService(repos.schedules, appLogger)
	appointmentSvc := appointmentService.NewService(repos.appointments, slotSvc, appLogger, m)

	jwtService := auth.NewJWTService(auth.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    time.Duration(cfg.JWT.ExpiryHours) * time.Hour,
	})

	r := router.NewRouter(
		middleware.NewAuthMiddleware(jwtService),
		handler.NewHandler(reg, repos.checks),
		psychologistHandler.NewHandler(scheduleSvc, slotSvc, appointmentSvc),
		appointmentHandler.NewHandler(appointmentSvc),
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			RateIdleExpiry:   cfg.RateLimit.IdleExpiry,
			AllowedOrigins:   cfg.Security.AllowedOrigins,
			AllowedMethods:   cfg.Security.AllowedMethods,
			AllowedHeaders:   cfg.Security.AllowedHeaders,
			RequestTimeout:   cfg.Server.RequestTimeout,
			MaxBodyBytes:     cfg.Server.MaxBodyBytes,
			MetricsPrefix:    "psicologos_http",
			Registerer:       reg,
			Logger:           appLogger.ZL,
		},
	)
	r.Setup()

	// Without a shared database the worker binary cannot see the outbox, so
	// events are relayed in-process.
	if cfg.Database.Driver == "memory" {
		if err := startInProcessRelay(ctx, cfg, repos.outbox, appLogger, m); err != nil {
			log.Fatal().Err(err).Msg("failed to start event relay")
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited properly")
}

func startInProcessRelay(ctx context.Context, cfg *config.Config, outbox repository.OutboxRepository, appLogger *logger.Logger, m *metrics.Metrics) error {
	broker := messaging.NewMemoryBroker()

	processor, err := worker.NewOutboxProcessor(outbox, broker, worker.OutboxProcessorConfig{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryDelay:   cfg.Outbox.RetryDelay,
	}, appLogger, m)
	if err != nil {
		return err
	}

	sender := email.NewSMTPSender(email.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	n := notifier.NewNotifier(broker, sender, nil, appLogger, m)

	go processor.Start(ctx)
	go func() {
		if err := n.Start(ctx); err != nil {
			appLogger.Error(err, "Notifier stopped")
		}
	}()
	return nil
}
