package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joao-fontenele/procurement-storefront/internal/config"
	"github.com/joao-fontenele/procurement-storefront/internal/email"
	"github.com/joao-fontenele/procurement-storefront/internal/server"
	"github.com/joao-fontenele/procurement-storefront/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load("8084")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "email")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("email")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	handler, err := email.NewHandler(logger)
	if err != nil {
		logger.Error("failed to create email handler", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", handler.HandleSend)
	mux.Handle("GET /metrics", metricsHandler)

	if err := server.Run(ctx, server.New(cfg.Port, "email", mux), logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
