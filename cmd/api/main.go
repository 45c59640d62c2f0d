// Package main is the entry point for the OrderPulse API server.
//
// It loads configuration, connects the database pool, Redis client, and SQS
// client, builds the HTTP server with the core chassis (middleware, routing,
// health checks), and starts listening for requests.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"orderpulse/internal/analytics"
	"orderpulse/internal/api/handlers"
	"orderpulse/internal/cache"
	"orderpulse/internal/config"
	"orderpulse/internal/core"
	"orderpulse/internal/db"
	"orderpulse/internal/taskq"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("orderpulse API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database pool: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Cache.RedisURL.Unmask())
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS SDK config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Stores and services.
	orderRepo := db.NewOrderRepo(pool)
	metricsRepo := db.NewMetricsRepo(pool)
	statusStore := cache.NewJobStatusStore(redisClient, cfg.Cache.JobStatusTTL)
	ledger := cache.NewTaskLedger(redisClient, cfg.Cache.JobStatusTTL)
	inspector := taskq.NewInspector(ledger, logger)
	trigger := taskq.NewTrigger(sqsClient, cfg.AWS.AggregationQueue, ledger, logger)
	jobStatusSvc := analytics.NewJobStatusService(statusStore, inspector, logger)

	// Handlers.
	orderHandler := handlers.NewOrderHandler(orderRepo, srv.Validator, logger)
	analyticsHandler := handlers.NewAnalyticsHandler(
		metricsRepo, jobStatusSvc, trigger, srv.Validator, logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { orderHandler.RegisterRoutes(r) },
		func(r chi.Router) { analyticsHandler.RegisterRoutes(r) },
	)

	// Health probes and shutdown hooks.
	srv.HealthProbes = []core.HealthProbe{
		&poolProbe{pool: pool},
		&redisProbe{client: redisClient},
	}
	srv.OnShutdown = append(srv.OnShutdown,
		func(context.Context) error { pool.Close(); return nil },
		func(context.Context) error { return redisClient.Close() },
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// poolProbe checks database connectivity for the health endpoint.
type poolProbe struct {
	pool *pgxpool.Pool
}

func (p *poolProbe) Name() string                    { return "database" }
func (p *poolProbe) Check(ctx context.Context) error { return p.pool.Ping(ctx) }

// redisProbe checks job status cache connectivity for the health endpoint.
type redisProbe struct {
	client *redis.Client
}

func (p *redisProbe) Name() string                    { return "cache" }
func (p *redisProbe) Check(ctx context.Context) error { return p.client.Ping(ctx).Err() }
