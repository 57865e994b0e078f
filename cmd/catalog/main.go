package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/procurement-storefront/internal/catalog"
	"github.com/joao-fontenele/procurement-storefront/internal/config"
	"github.com/joao-fontenele/procurement-storefront/internal/server"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("8082")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.Require("POSTGRES_URL", cfg.PostgresURL); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "catalog")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("catalog")
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

	mux := http.NewServeMux()
	catalog.NewHandler(catalog.NewCatalogRepository(db), logger).Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	if err := server.Run(ctx, server.New(cfg.Port, "catalog", mux), logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
