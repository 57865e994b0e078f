package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/procurement-storefront/internal/config"
	"github.com/joao-fontenele/procurement-storefront/internal/messaging"
	"github.com/joao-fontenele/procurement-storefront/internal/server"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
	"github.com/joao-fontenele/procurement-storefront/internal/worker"
)

const consumerGroup = "notification-worker"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("8083")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	brokers := ""
	if len(cfg.KafkaBrokers) > 0 {
		brokers = cfg.KafkaBrokers[0]
	}
	if err := config.Require(
		"KAFKA_BROKERS", brokers,
		"EMAIL_SERVICE_URL", cfg.EmailServiceURL,
		"CATALOG_SERVICE_URL", cfg.CatalogServiceURL,
	); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	if cfg.AdminEmail == "" {
		logger.Warn("ADMIN_EMAIL not set, low stock alerts are disabled")
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("worker")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	notifications := worker.NewNotificationHandler(
		cfg.EmailServiceURL, cfg.CatalogServiceURL, cfg.AdminEmail,
		server.Client(10*time.Second), logger,
	)

	created := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicOrderCreated, consumerGroup, logger)
	defer func() { _ = created.Close() }()
	approved := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicOrderApproved, consumerGroup, logger)
	defer func() { _ = approved.Close() }()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)

	logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return created.Consume(ctx, messaging.JSON(notifications.HandleOrderCreated))
	})
	g.Go(func() error {
		return approved.Consume(ctx, messaging.JSON(notifications.HandleOrderApproved))
	})
	g.Go(func() error {
		return server.Run(ctx, server.New(cfg.Port, "worker", mux), logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("worker stopped")
}
