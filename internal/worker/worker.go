package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Runner is a long-lived background loop that returns when ctx is done.
type Runner interface {
	Run(ctx context.Context) error
}

// Config holds worker configuration
type Config struct {
	Logger *slog.Logger

	// Runners keyed by a name used in logs, e.g. "outbox-relay".
	Runners map[string]Runner

	// MaxRestartDelay caps the backoff between restarts of a runner that
	// returned early.
	MaxRestartDelay time.Duration
}

// Worker hosts the relay-service loops. A loop that returns before shutdown
// is restarted with exponential backoff.
type Worker struct {
	logger          *slog.Logger
	runners         map[string]Runner
	maxRestartDelay time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	maxDelay := cfg.MaxRestartDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Worker{
		logger:          cfg.Logger,
		runners:         cfg.Runners,
		maxRestartDelay: maxDelay,
	}
}

// Start runs every loop and blocks until ctx is cancelled or Stop is called,
// then waits for the loops to return.
func (w *Worker) Start(ctx context.Context) error {
	if len(w.runners) == 0 {
		return errors.New("worker has nothing to run")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	w.logger.Info("Starting worker", slog.Int("loops", len(w.runners)))

	for name, r := range w.runners {
		w.wg.Add(1)
		go w.supervise(ctx, name, r)
	}

	<-ctx.Done()
	w.wg.Wait()
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) supervise(ctx context.Context, name string, r Runner) {
	defer w.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = w.maxRestartDelay

	for {
		started := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			w.logger.Info("Loop stopped", slog.String("loop", name))
			return
		}

		// A loop that ran for a while before failing starts over with a short delay.
		if time.Since(started) > w.maxRestartDelay {
			bo.Reset()
		}
		delay := bo.NextBackOff()

		w.logger.Error("Loop exited, restarting",
			slog.String("loop", name),
			slog.Any("error", err),
			slog.Duration("retry_after", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
