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

	"github.com/Dan9191/telehealth-credits/internal/config"
	"github.com/Dan9191/telehealth-credits/internal/credits"
	"github.com/Dan9191/telehealth-credits/internal/events"
	"github.com/Dan9191/telehealth-credits/internal/events/kafka"
	"github.com/Dan9191/telehealth-credits/internal/handler"
	"github.com/Dan9191/telehealth-credits/internal/metrics"
	"github.com/Dan9191/telehealth-credits/internal/notify"
	"github.com/Dan9191/telehealth-credits/internal/onboarding"
	"github.com/Dan9191/telehealth-credits/internal/repository"
	"github.com/Dan9191/telehealth-credits/internal/scheduler"
	"github.com/Dan9191/telehealth-credits/internal/service"
	"github.com/Dan9191/telehealth-credits/internal/statement"
	"github.com/Dan9191/telehealth-credits/internal/verification"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	// Optional .env for local runs.
	_ = godotenv.Load()

	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	repo, err := repository.Open(ctx, cfg.DBDriver, cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Event sinks
	mailer := notify.NewSender(cfg, logger)
	publishers := events.Multi{mailer}
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer producer.Close()
		publishers = append(publishers, producer)
		logger.Infof("Publishing ledger events to kafka topic %s", cfg.KafkaTopic)
	}

	ledgerOpts := []credits.Option{
		credits.WithPublisher(publishers),
		credits.WithLocation(cfg.Location),
	}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		ledgerOpts = append(ledgerOpts, credits.WithMetrics(metrics.New(reg)))
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Initialize layers
	ledger := credits.New(repo, logger, ledgerOpts...)
	gate := verification.NewGate(repo, logger)
	h := handler.NewHandler(
		service.NewService(repo, ledger, logger, cfg),
		onboarding.NewService(repo, logger),
		verification.NewService(repo, gate, mailer, logger),
		ledger,
		statement.NewBuilder(repo, cfg.Location),
		logger,
	)

	sched, err := scheduler.New(cfg.AllocationSpec, cfg.Location, ledger, logger)
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}
	sched.Start()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(h, cfg, gate, metricsHandler),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}
	sched.Stop(shutdownCtx)
	if err := mailer.Drain(shutdownCtx); err != nil {
		logger.Warnf("Pending emails not sent: %v", err)
	}
}
