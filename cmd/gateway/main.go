package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joao-fontenele/procurement-storefront/internal/config"
	"github.com/joao-fontenele/procurement-storefront/internal/gateway"
	"github.com/joao-fontenele/procurement-storefront/internal/server"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := config.Require(
		"ORDERS_SERVICE_URL", cfg.OrdersServiceURL,
		"CATALOG_SERVICE_URL", cfg.CatalogServiceURL,
	); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("gateway")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	httpClient := server.Client(30 * time.Second)
	handler := gateway.NewHandler(
		gateway.NewServiceProxy(cfg.OrdersServiceURL, httpClient),
		gateway.NewServiceProxy(cfg.CatalogServiceURL, httpClient),
		logger,
	)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.Handle("GET /metrics", metricsHandler)

	if err := server.Run(ctx, server.New(cfg.Port, "gateway", mux), logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
