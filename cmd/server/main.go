package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"download-gateway/internal/config"
	"download-gateway/internal/httpapi"
	"download-gateway/internal/observability"
	"download-gateway/internal/ratelimit"
	"download-gateway/internal/storage"
)

// shutdownGrace bounds how long in-flight requests may drain after a signal.
const shutdownGrace = 15 * time.Second

func main() {
	// A missing .env is fine; the environment itself is authoritative.
	_ = godotenv.Load()

	cfg := loadConfiguration()

	logger := observability.NewLogger(cfg.ServiceName, cfg.LogLevel)
	logger.Info("starting", observability.Fields{
		"service":     cfg.ServiceName,
		"environment": cfg.Environment,
	})

	deps := initializeDependencies(cfg, logger)
	defer deps.teardown(logger)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.Max)
	server := httpapi.NewServer(cfg, logger, deps.metrics, deps.tracer, deps.reporter, deps.gateway, limiter)

	run(server, deps, logger)
}

// dependencies holds every component with a lifecycle of its own.
type dependencies struct {
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	reporter observability.ErrorReporter
	gateway  storage.Gateway

	teardownOnce sync.Once
}

// loadConfiguration fails fast, before anything binds, on invalid input.
func loadConfiguration() *config.Settings {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func initializeDependencies(cfg *config.Settings, logger observability.Logger) *dependencies {
	metrics := observability.NewMetrics("download_gateway")

	tracer, err := observability.NewTracer(context.Background(), cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	reporter, err := observability.NewErrorReporter(cfg.SentryDSN, cfg.Environment, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Failed to initialize error reporting: %v", err)
	}

	gateway, err := storage.NewGateway(
		context.Background(),
		cfg.Storage,
		logger.WithFields(observability.Fields{"component": "storage"}),
		metrics,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage gateway: %v", err)
	}

	return &dependencies{
		metrics:  metrics,
		tracer:   tracer,
		reporter: reporter,
		gateway:  gateway,
	}
}

// teardown releases every dependency exactly once, so repeated signals never
// double-run cleanup.
func (d *dependencies) teardown(logger observability.Logger) {
	d.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := d.tracer.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown failed", err, nil)
		}
		d.reporter.Flush(5 * time.Second)
		if err := d.gateway.Close(); err != nil {
			logger.Error("storage gateway close failed", err, nil)
		}
		logger.Info("teardown complete", nil)
	})
}

// run serves until a termination signal arrives, then drains in-flight
// requests within the grace period.
func run(server *httpapi.Server, deps *dependencies, logger observability.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", err, nil)
			deps.teardown(logger)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", err, nil)
		}
	}

	deps.teardown(logger)
}
