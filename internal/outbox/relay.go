package outbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
	"github.com/cuongbtq/flytwo-backend/internal/storage"
	"github.com/cuongbtq/flytwo-backend/shared/rabbitmq"
)

// errPublishWindow marks messages left unsent when a batch runs out of time
// before its claim lock expires.
var errPublishWindow = errors.New("batch publish window exceeded")

// Store is the outbox persistence used by the relay.
type Store interface {
	ClaimOutbox(ctx context.Context, now, lockUntil time.Time, limit int) ([]domain.OutboxMessage, error)
	SaveOutboxOutcomes(ctx context.Context, outcomes []storage.OutboxOutcome) error
}

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg rabbitmq.Message) error
}

// Config tunes the relay loop.
type Config struct {
	BatchSize    int
	LockDuration time.Duration
	RetryDelay   time.Duration
	IdleDelay    time.Duration
	ErrorDelay   time.Duration
}

// Relay moves committed outbox messages to the broker.
type Relay struct {
	store     Store
	publisher Publisher
	config    Config
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func NewRelay(store Store, publisher Publisher, config Config, logger *slog.Logger) *Relay {
	return &Relay{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("flytwo/outbox"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run relays batches until ctx is cancelled. Errors are logged and followed
// by ErrorDelay; an empty batch is followed by IdleDelay.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay started",
		slog.Int("batch_size", r.config.BatchSize),
		slog.Duration("lock_duration", r.config.LockDuration),
	)

	for {
		if ctx.Err() != nil {
			r.logger.Info("Outbox relay stopped")
			return nil
		}

		processed, err := r.RelayOnce(ctx)

		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				r.logger.Info("Outbox relay stopped")
				return nil
			}
			metrics.RelayErrors.Inc()
			r.logger.Error("Outbox relay iteration failed", slog.Any("error", err))
			delay = r.config.ErrorDelay
		case processed:
			continue
		default:
			delay = r.config.IdleDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RelayOnce claims one batch, publishes every message and records the
// outcomes. It reports whether anything was claimed. Once a batch is claimed
// it runs to completion even if ctx is cancelled.
func (r *Relay) RelayOnce(ctx context.Context) (bool, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.relay_batch")
	defer span.End()

	now := r.now()
	msgs, err := r.store.ClaimOutbox(ctx, now, now.Add(r.config.LockDuration), r.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return false, err
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(msgs)))
	if len(msgs) == 0 {
		return false, nil
	}

	start := time.Now()
	metrics.OutboxClaimed.Add(float64(len(msgs)))
	batchCtx := context.WithoutCancel(ctx)

	// Publishing stops at half the claim lock so no message outlives its lock.
	publishCtx, cancelPublish := context.WithTimeout(batchCtx, r.config.LockDuration/2)
	defer cancelPublish()

	outcomes := make([]storage.OutboxOutcome, 0, len(msgs))
	failed, deferred := 0, 0
	var brokerErr error
	for _, msg := range msgs {
		if brokerErr == nil && publishCtx.Err() != nil {
			brokerErr = errPublishWindow
		}
		if brokerErr != nil {
			outcomes = append(outcomes, r.failure(msg, brokerErr))
			failed++
			deferred++
			continue
		}

		outcome, err := r.publish(publishCtx, msg)
		if err != nil {
			failed++
			if errors.Is(err, rabbitmq.ErrUnavailable) || errors.Is(err, rabbitmq.ErrPublisherClosed) {
				brokerErr = err
			}
		}
		outcomes = append(outcomes, outcome)
	}
	if deferred > 0 {
		r.logger.Warn("Deferred rest of outbox batch",
			slog.Int("deferred", deferred),
			slog.Any("error", brokerErr),
		)
	}

	if err := r.store.SaveOutboxOutcomes(batchCtx, outcomes); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save outcomes failed")
		return false, err
	}
	metrics.RelayBatch.Observe(time.Since(start).Seconds())

	r.logger.Info("Outbox batch relayed",
		slog.Int("claimed", len(msgs)),
		slog.Int("published", len(msgs)-failed),
		slog.Int("failed", failed),
	)
	return true, nil
}

func (r *Relay) publish(ctx context.Context, msg domain.OutboxMessage) (storage.OutboxOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "outbox.publish", trace.WithAttributes(
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.message.id", msg.ID.String()),
		attribute.String("outbox.type", msg.Type),
		attribute.Int("outbox.attempts", msg.Attempts),
	))
	defer span.End()

	err := r.publisher.Publish(ctx, rabbitmq.Message{
		ID:        msg.ID.String(),
		Type:      msg.Type,
		Body:      []byte(msg.PayloadJSON),
		Timestamp: msg.OccurredAt,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		r.logger.Warn("Failed to publish outbox message",
			slog.String("message_id", msg.ID.String()),
			slog.Int("attempts", msg.Attempts),
			slog.Any("error", err),
		)
		return r.failure(msg, err), err
	}

	metrics.OutboxPublished.Inc()
	return storage.OutboxOutcome{ID: msg.ID, Published: true, ProcessedAt: r.now()}, nil
}

// failure records err on msg and puts it on the retry cooldown.
func (r *Relay) failure(msg domain.OutboxMessage, err error) storage.OutboxOutcome {
	metrics.OutboxFailed.Inc()
	return storage.OutboxOutcome{
		ID:          msg.ID,
		LastError:   truncate(err.Error(), domain.MaxLastErrorLength),
		LockedUntil: r.now().Add(r.config.RetryDelay),
	}
}

// truncate cuts s to at most limit characters without splitting a rune.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
