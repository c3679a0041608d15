package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/media-pipeline/internal/api/handler"
	"github.com/cuongbtq/media-pipeline/internal/api/router"
	"github.com/cuongbtq/media-pipeline/internal/app"
	"github.com/cuongbtq/media-pipeline/internal/config"
	"github.com/cuongbtq/media-pipeline/internal/telemetry"
	"github.com/cuongbtq/media-pipeline/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Queue.Backend == config.BackendMemory {
		return errors.New("worker service needs a shared queue backend; run the api service alone for in-memory mode")
	}

	// Initialize logger
	appLogger, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("model", cfg.Provider.Model),
	)

	shutdownTracer, err := telemetry.InitTracer(cfg.TelemetryConfig(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Open(ctx, cfg, appLogger.Logger, app.Options{Workers: true})
	if err != nil {
		return fmt.Errorf("failed to initialize runtime: %w", err)
	}
	defer rt.Close()

	if err := rt.StartWorkers(ctx); err != nil {
		return err
	}

	// Health and metrics endpoint
	opsSrv := initOpsServer(cfg, rt)
	errChan := make(chan error, 1)
	go func() {
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.Int("metrics_port", cfg.Worker.MetricsPort),
		slog.Any("queues", rt.Pipeline.Queues()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Metrics server error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop workers
	cancel()

	// Give in-flight jobs time to finish
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		rt.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Workers stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Metrics server forced to shutdown", slog.Any("error", err))
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		appLogger.Error("Failed to flush traces", slog.Any("error", err))
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initOpsServer serves /health and /metrics on the worker metrics port
func initOpsServer(cfg *config.Config, rt *app.Runtime) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	r := router.SetupOpsRouter(&handler.Dependencies{
		Logger:      rt.Logger,
		Health:      rt.CheckHealth,
		ServiceName: cfg.App.Name + "-worker",
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
