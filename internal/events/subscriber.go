package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
)

// Subscriber receives worker job events from a Redis channel and applies
// them one at a time in arrival order.
type Subscriber struct {
	client  redis.UniversalClient
	channel string
	queue   *Queue
	applier *Applier
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewSubscriber(client redis.UniversalClient, channel string, applier *Applier, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		channel: channel,
		queue:   NewQueue(),
		applier: applier,
		logger:  logger,
		tracer:  otel.Tracer("flytwo/events"),
	}
}

// Run subscribes and blocks until ctx is cancelled. The receive loop only
// enqueues; a single consumer goroutine applies events.
func (s *Subscriber) Run(ctx context.Context) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	s.logger.Info("Job event subscriber started", slog.String("channel", s.channel))

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consume(consumeCtx)
	}()

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("Job event subscriber stopped", slog.Int("pending", s.queue.Len()))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				stop()
				wg.Wait()
				return errors.New("job event subscription closed")
			}
			if msg.Payload == "" {
				continue
			}
			s.queue.Push([]byte(msg.Payload))
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) {
	for {
		data, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		s.handle(ctx, data)
	}
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	ev, err := Decode(data)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("malformed").Inc()
		s.logger.Warn("Dropping malformed job event", slog.Any("error", err))
		return
	}

	ctx, span := s.tracer.Start(ctx, "events.apply", trace.WithAttributes(
		attribute.String("job.id", ev.JobID.String()),
		attribute.String("event.type", string(ev.Type)),
	))
	defer span.End()

	if err := s.applier.Apply(ctx, ev); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		if errors.Is(err, domain.ErrMalformedEvent) {
			metrics.EventsDropped.WithLabelValues("malformed").Inc()
		} else {
			metrics.EventsDropped.WithLabelValues("apply_error").Inc()
		}
		s.logger.Error("Failed to apply job event",
			slog.String("job_id", ev.JobID.String()),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}
