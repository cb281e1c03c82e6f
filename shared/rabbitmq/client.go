package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

var (
	// ErrPublisherClosed is returned by Publish after Close.
	ErrPublisherClosed = errors.New("rabbitmq publisher is closed")
	// ErrUnavailable wraps failures to open a connection or channel.
	ErrUnavailable = errors.New("rabbitmq unavailable")
)

const dialTimeout = 30 * time.Second

// Config holds RabbitMQ connection configuration
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	VHost          string
	ConnectionName string
	Heartbeat      time.Duration

	// ExchangeName may be empty, in which case messages go through the
	// default exchange routed by QueueName.
	ExchangeName string
	ExchangeType string
	QueueName    string
	RoutingKey   string

	RetryAttempts int
	RetryInterval time.Duration
}

func (c *Config) uri() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

func (c *Config) routingKey() string {
	if c.ExchangeName == "" || c.RoutingKey == "" {
		return c.QueueName
	}
	return c.RoutingKey
}

// Connection is the subset of *amqp.Connection the publisher needs.
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
}

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
	IsClosed() bool
}

// Dialer opens a broker connection.
type Dialer func(ctx context.Context) (Connection, error)

type amqpConnection struct {
	*amqp.Connection
}

func (c amqpConnection) Channel() (Channel, error) {
	return c.Connection.Channel()
}

// Message is one broker publish.
type Message struct {
	ID        string
	Type      string
	Body      []byte
	Timestamp time.Time
}

// Publisher publishes persistent messages to the job queue. The connection
// is opened on first use and reopened after any failure.
type Publisher struct {
	config *Config
	logger *slog.Logger
	dial   Dialer

	mu      sync.RWMutex
	conn    Connection
	channel Channel
	closed  bool
}

// NewPublisher creates a publisher that dials lazily.
func NewPublisher(config *Config, logger *slog.Logger) *Publisher {
	amqpConfig := amqp.Config{
		Heartbeat:  config.Heartbeat,
		Locale:     "en_US",
		Properties: amqp.NewConnectionProperties(),
	}
	if config.ConnectionName != "" {
		amqpConfig.Properties.SetClientConnectionName(config.ConnectionName)
	}

	dial := func(ctx context.Context) (Connection, error) {
		cfg := amqpConfig
		cfg.Dial = func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: dialTimeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// cleared by amqp once the handshake completes
			if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
				conn.Close()
				return nil, err
			}
			return conn, nil
		}
		conn, err := amqp.DialConfig(config.uri(), cfg)
		if err != nil {
			return nil, err
		}
		return amqpConnection{Connection: conn}, nil
	}
	return NewPublisherWithDialer(config, logger, dial)
}

// NewPublisherWithDialer creates a publisher using a custom dialer.
func NewPublisherWithDialer(config *Config, logger *slog.Logger, dial Dialer) *Publisher {
	return &Publisher{config: config, logger: logger, dial: dial}
}

// Publish sends msg to the configured queue. A failed publish drops the
// connection so the next call reconnects.
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	ch, err := p.ensureChannel(ctx)
	if err != nil {
		return err
	}

	headers := amqp.Table{}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}

	timestamp := msg.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	err = ch.PublishWithContext(
		ctx,
		p.config.ExchangeName,
		p.config.routingKey(),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Type:         msg.Type,
			Timestamp:    timestamp,
			Headers:      headers,
			Body:         msg.Body,
		},
	)
	if err != nil {
		p.reset(ch)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	p.logger.Debug("Message published to RabbitMQ",
		slog.String("message_id", msg.ID),
		slog.String("type", msg.Type),
		slog.Int("body_size", len(msg.Body)),
	)
	return nil
}

func (p *Publisher) ensureChannel(ctx context.Context) (Channel, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPublisherClosed
	}
	if p.usable() {
		ch := p.channel
		p.mu.RUnlock()
		return ch, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.usable() {
		return p.channel, nil
	}

	p.teardown()
	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	return p.channel, nil
}

// usable must be called with mu held.
func (p *Publisher) usable() bool {
	return p.conn != nil && p.channel != nil && !p.conn.IsClosed() && !p.channel.IsClosed()
}

func (p *Publisher) connect(ctx context.Context) error {
	attempts := p.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.config.RetryInterval > 0 {
		bo.InitialInterval = p.config.RetryInterval
	}

	conn, err := backoff.Retry(ctx, func() (Connection, error) {
		return p.dial(ctx)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("Failed to connect to RabbitMQ, retrying",
				slog.Any("error", err),
				slog.Duration("retry_after", next),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to connect to RabbitMQ after %d attempts: %w", ErrUnavailable, attempts, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: failed to create channel: %w", ErrUnavailable, err)
	}

	if err := p.setup(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	p.conn = conn
	p.channel = ch

	p.logger.Info("RabbitMQ publisher connected",
		slog.String("exchange", p.config.ExchangeName),
		slog.String("queue", p.config.QueueName),
	)
	return nil
}

// setup declares the durable queue, plus the exchange and binding when an
// exchange is configured.
func (p *Publisher) setup(ch Channel) error {
	if _, err := ch.QueueDeclare(
		p.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if p.config.ExchangeName == "" {
		return nil
	}

	kind := p.config.ExchangeType
	if kind == "" {
		kind = amqp.ExchangeDirect
	}
	if err := ch.ExchangeDeclare(p.config.ExchangeName, kind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.QueueBind(p.config.QueueName, p.config.routingKey(), p.config.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// reset drops the connection if ch is still the current channel.
func (p *Publisher) reset(ch Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == ch {
		p.teardown()
	}
}

// teardown must be called with mu held.
func (p *Publisher) teardown() {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			p.logger.Debug("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			p.logger.Debug("Failed to close RabbitMQ connection", slog.Any("error", err))
		}
		p.conn = nil
	}
}

// IsConnected reports whether a live connection is held.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.usable()
}

// Close releases the connection. Subsequent publishes fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.teardown()
	p.logger.Info("RabbitMQ publisher closed")
	return nil
}
