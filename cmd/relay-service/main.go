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
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/flytwo-backend/internal/api/handler"
	"github.com/cuongbtq/flytwo-backend/internal/config"
	"github.com/cuongbtq/flytwo-backend/internal/events"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/outbox"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
	"github.com/cuongbtq/flytwo-backend/internal/storage"
	"github.com/cuongbtq/flytwo-backend/internal/worker"
	"github.com/cuongbtq/flytwo-backend/shared/logger"
	"github.com/cuongbtq/flytwo-backend/shared/postgresql"
	"github.com/cuongbtq/flytwo-backend/shared/rabbitmq"
	"github.com/cuongbtq/flytwo-backend/shared/redis"
	"github.com/cuongbtq/flytwo-backend/shared/telemetry"
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
	defaultConfigPath := os.Getenv("RELAY_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/relay-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateRelayConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting relay service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		Version:      cfg.App.Version,
		Environment:  cfg.App.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// The publisher connects lazily on first publish and reconnects after failures.
	publisher := initRabbitMQ(&cfg.RabbitMQ, appLogger.Component("rabbitmq"))

	metrics.Register()
	metrics.RegisterDBStats(dbClient.DB().DB)

	store := storage.NewStorage(dbClient)
	pusher := realtime.NewRedisPusher(redisClient, cfg.Redis.RealtimeChannelPrefix)
	notifications := notification.NewEngine(store, pusher, appLogger.Component("notification"))

	relay := outbox.NewRelay(store, publisher, outbox.Config{
		BatchSize:    cfg.Outbox.BatchSize,
		LockDuration: cfg.Outbox.LockDuration,
		RetryDelay:   cfg.Outbox.RetryDelay,
		IdleDelay:    cfg.Outbox.IdleDelay,
		ErrorDelay:   cfg.Outbox.ErrorDelay,
	}, appLogger.Component("outbox"))

	applier := events.NewApplier(store, pusher, notifications, appLogger.Component("events"))
	subscriber := events.NewSubscriber(redisClient, cfg.Redis.EventsChannel, applier, appLogger.Component("events"))

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger: appLogger.Component("worker"),
		Runners: map[string]worker.Runner{
			"outbox-relay":     relay,
			"event-subscriber": subscriber,
		},
	})

	opsServer := initOpsServer(cfg, appLogger, dbClient, redisClient)

	// Start worker in a goroutine
	errChan := make(chan error, 2)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops server: %w", err)
		}
	}()

	appLogger.Info("Relay service started successfully",
		slog.String("ops_address", opsServer.Addr),
		slog.String("events_channel", cfg.Redis.EventsChannel),
		slog.String("queue", cfg.RabbitMQ.Queue.Name),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Relay service error",
			slog.Any("error", runErr),
		)
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("Ops server forced to shutdown", slog.Any("error", err))
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if err := publisher.Close(); err != nil {
			appLogger.Warn("Failed to close RabbitMQ publisher", slog.Any("error", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			appLogger.Warn("Failed to flush traces", slog.Any("error", err))
		}
		redisClient.Close()
		dbClient.Close()
	}
	cleanup()

	appLogger.Info("Relay service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(ctx, dbConfig, logger)
}

// initRabbitMQ builds the outbox publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) *rabbitmq.Publisher {
	rabbitConfig := &rabbitmq.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		User:           cfg.User,
		Password:       cfg.Password,
		VHost:          cfg.VHost,
		ConnectionName: cfg.Connection.ConnectionName,
		Heartbeat:      cfg.Connection.Heartbeat,
		ExchangeName:   cfg.Exchange.Name,
		ExchangeType:   cfg.Exchange.Type,
		QueueName:      cfg.Queue.Name,
		RoutingKey:     cfg.RoutingKey,
		RetryAttempts:  cfg.Connection.RetryAttempts,
		RetryInterval:  cfg.Connection.RetryInterval,
	}

	return rabbitmq.NewPublisher(rabbitConfig, logger)
}

// initOpsServer serves /health and /metrics for the relay process
func initOpsServer(cfg *config.Config, appLogger *logger.Logger, dbClient *postgresql.Client, redisClient goredis.UniversalClient) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	health := handler.NewHealthHandler(&handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		HealthChecks: map[string]handler.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redis.HealthCheck(ctx, redisClient)
			},
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/health", health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	port := cfg.Server.Port
	if port == 0 {
		port = 9090
	}
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
