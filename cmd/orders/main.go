package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/procurement-storefront/internal/config"
	"github.com/joao-fontenele/procurement-storefront/internal/messaging"
	"github.com/joao-fontenele/procurement-storefront/internal/orders"
	"github.com/joao-fontenele/procurement-storefront/internal/server"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("8081")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.Require("POSTGRES_URL", cfg.PostgresURL); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "orders")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("orders")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		logger.Error("invalid database url", "error", err)
		os.Exit(1)
	}
	db, err := telemetry.OpenDB(ctx, dsn)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	opts := []orders.Option{orders.WithTxTimeout(cfg.TxTimeout)}
	if len(cfg.KafkaBrokers) > 0 {
		created := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderCreated)
		defer func() { _ = created.Close() }()
		approved := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderApproved)
		defer func() { _ = approved.Close() }()
		opts = append(opts, orders.WithPublishers(created, approved))
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are not published")
	}

	service, err := orders.NewService(orders.NewOrderRepository(db), logger, opts...)
	if err != nil {
		logger.Error("failed to create order service", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	orders.NewHandler(service, logger).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	if err := server.Run(ctx, server.New(cfg.Port, "orders", mux), logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
