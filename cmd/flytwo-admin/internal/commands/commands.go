package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/flytwo-backend/internal/config"
	"github.com/cuongbtq/flytwo-backend/shared/logger"
	"github.com/cuongbtq/flytwo-backend/shared/postgresql"
)

// CLI is the flytwo-admin command tree.
type CLI struct {
	Config  string           `help:"Path to a service configuration file." default:"configs/api-service/config.yaml" env:"API_SERVICE_CONFIG_PATH" type:"path"`
	Debug   bool             `help:"Enable debug logging."`
	Version kong.VersionFlag `help:"Print version and exit."`

	Migrate MigrateCmd `cmd:"" help:"Manage the database schema."`
	Notify  NotifyCmd  `cmd:"" help:"Send notifications."`
	Outbox  OutboxCmd  `cmd:"" help:"Inspect the outbox."`
}

// Globals is shared by every command.
type Globals struct {
	ConfigPath string
	Debug      bool
	Version    string

	// Out receives command output; stdout when nil.
	Out io.Writer
}

func (g *Globals) out() io.Writer {
	if g.Out != nil {
		return g.Out
	}
	return os.Stdout
}

// env is what a command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	logger *logger.Logger
	db     *postgresql.Client
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.logger != nil {
		e.logger.Close()
	}
}

// open loads configuration and connects to Postgres.
func (g *Globals) open(ctx context.Context) (*env, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if g.Debug {
		level = "debug"
	}
	appLogger, err := logger.New(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.TimeOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, appLogger.Component("postgresql"))
	if err != nil {
		appLogger.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &env{cfg: cfg, logger: appLogger, db: db}, nil
}
