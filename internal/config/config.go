package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Defaults applied by ApplyDefaults when a value is left unset.
const (
	DefaultEventsChannel         = "flytwo:print:events"
	DefaultRealtimeChannelPrefix = "flytwo:realtime:"
	DefaultOutboxBatchSize       = 50
	DefaultOutboxLockDuration    = 2 * time.Minute
	DefaultOutboxRetryDelay      = 10 * time.Second
	DefaultOutboxIdleDelay       = time.Second
	DefaultOutboxErrorDelay      = 2 * time.Second
	DefaultPresignExpiry         = 24 * time.Hour
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Print      PrintConfig      `yaml:"print"`
	Storage    StorageConfig    `yaml:"storage"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Migrations MigrationsConfig `yaml:"migrations"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the broker connection and the queue print jobs are published to.
// An empty exchange name publishes through the default exchange, routed by queue name.
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueueConfig names the durable job queue.
type QueueConfig struct {
	Name string `yaml:"name"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
	ConnectionName string        `yaml:"connection_name"`
}

// RedisConfig holds the Redis connection plus the pub/sub channels used for
// worker events and realtime group pushes.
type RedisConfig struct {
	Addr                  string `yaml:"addr"`
	Password              string `yaml:"password"`
	DB                    int    `yaml:"db"`
	EventsChannel         string `yaml:"events_channel"`
	RealtimeChannelPrefix string `yaml:"realtime_channel_prefix"`
}

// OutboxConfig tunes the outbox relay loop.
type OutboxConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	LockDuration time.Duration `yaml:"lock_duration"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	IdleDelay    time.Duration `yaml:"idle_delay"`
	ErrorDelay   time.Duration `yaml:"error_delay"`
}

// PrintConfig holds print job settings.
type PrintConfig struct {
	WorkerAPIKey string `yaml:"worker_api_key"`
}

// StorageConfig describes where workers upload report output, used to presign
// fresh download URLs once the stored one expires.
type StorageConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	PresignExpiry   time.Duration `yaml:"presign_expiry"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// MigrationsConfig controls schema migrations on service start.
type MigrationsConfig struct {
	Auto bool `yaml:"auto"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. Defaults are applied to the
// sections left empty.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset values with the built-in defaults.
func (c *Config) ApplyDefaults() {
	if c.Redis.EventsChannel == "" {
		c.Redis.EventsChannel = DefaultEventsChannel
	}
	if c.Redis.RealtimeChannelPrefix == "" {
		c.Redis.RealtimeChannelPrefix = DefaultRealtimeChannelPrefix
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = DefaultOutboxBatchSize
	}
	if c.Outbox.LockDuration <= 0 {
		c.Outbox.LockDuration = DefaultOutboxLockDuration
	}
	if c.Outbox.RetryDelay <= 0 {
		c.Outbox.RetryDelay = DefaultOutboxRetryDelay
	}
	if c.Outbox.IdleDelay <= 0 {
		c.Outbox.IdleDelay = DefaultOutboxIdleDelay
	}
	if c.Outbox.ErrorDelay <= 0 {
		c.Outbox.ErrorDelay = DefaultOutboxErrorDelay
	}
	if c.Storage.PresignExpiry <= 0 {
		c.Storage.PresignExpiry = DefaultPresignExpiry
	}
	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval <= 0 {
		c.RabbitMQ.Connection.RetryInterval = time.Second
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = c.App.Name
	}
}

// Validate checks the settings every service needs.
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry otlp_endpoint is required when telemetry is enabled")
	}

	return nil
}

// ValidateAPIConfig checks the settings required by the API service.
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Print.WorkerAPIKey == "" {
		return fmt.Errorf("print worker_api_key is required")
	}

	if c.Storage.Enabled && c.Storage.Region == "" {
		return fmt.Errorf("storage region is required when storage is enabled")
	}

	return nil
}

// ValidateRelayConfig checks the settings required by the relay service.
func (c *Config) ValidateRelayConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	if c.Outbox.BatchSize > 1000 {
		return fmt.Errorf("outbox batch_size must not exceed 1000")
	}

	return nil
}
