package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"github.com/cuongbtq/flytwo-backend/internal/api/handler"
	"github.com/cuongbtq/flytwo-backend/internal/api/router"
	"github.com/cuongbtq/flytwo-backend/internal/config"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
	"github.com/cuongbtq/flytwo-backend/internal/migrations"
	"github.com/cuongbtq/flytwo-backend/internal/notification"
	"github.com/cuongbtq/flytwo-backend/internal/output"
	"github.com/cuongbtq/flytwo-backend/internal/printjob"
	"github.com/cuongbtq/flytwo-backend/internal/realtime"
	"github.com/cuongbtq/flytwo-backend/internal/storage"
	"github.com/cuongbtq/flytwo-backend/shared/logger"
	"github.com/cuongbtq/flytwo-backend/shared/postgresql"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

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

	if cfg.Migrations.Auto {
		if err := migrations.Up(ctx, dbClient.DB().DB, appLogger.Component("migrations")); err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
	}

	redisClient, err := redis.NewClient(ctx, &redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	var signer printjob.URLSigner
	if cfg.Storage.Enabled {
		presigner, err := output.NewPresigner(ctx, output.Config{
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			UsePathStyle:    cfg.Storage.UsePathStyle,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			Expiry:          cfg.Storage.PresignExpiry,
		})
		if err != nil {
			redisClient.Close()
			dbClient.Close()
			return fmt.Errorf("failed to initialize output storage: %w", err)
		}
		signer = presigner
	}

	metrics.Register()
	metrics.RegisterDBStats(dbClient.DB().DB)

	// Initialize router
	r := initRouter(cfg, appLogger, dbClient, redisClient, signer)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		// No WriteTimeout: it would cut realtime streams.
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case serveErr = <-errChan:
		appLogger.Error("Server failed", slog.Any("error", serveErr))
	}

	appLogger.Info("Shutting down server...")

	// Open streams watch the base context; cancel it so Shutdown is not held up.
	cancel()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		shutdownCancel()
		if err := shutdownTracing(context.Background()); err != nil {
			appLogger.Warn("Failed to flush traces", slog.Any("error", err))
		}
		redisClient.Close()
		dbClient.Close()
	}
	defer cleanup()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return serveErr
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

// initRouter wires the services behind the Gin router
func initRouter(cfg *config.Config, appLogger *logger.Logger, dbClient *postgresql.Client, redisClient *goredis.Client, signer printjob.URLSigner) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	store := storage.NewStorage(dbClient)
	pusher := realtime.NewRedisPusher(redisClient, cfg.Redis.RealtimeChannelPrefix)

	handlerDeps := &handler.Dependencies{
		Logger:        appLogger.Logger,
		ServiceName:   cfg.App.Name,
		PrintJobs:     printjob.NewService(store, signer, appLogger.Component("printjob")),
		Notifications: notification.NewEngine(store, pusher, appLogger.Component("notification")),
		Hub:           realtime.NewHub(redisClient, cfg.Redis.RealtimeChannelPrefix, appLogger.Component("realtime")),
		WorkerAPIKey:  cfg.Print.WorkerAPIKey,
		HealthChecks: map[string]handler.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redis.HealthCheck(ctx, redisClient)
			},
		},
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
