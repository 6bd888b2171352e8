// File: internal/infra/worker/runner.go
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"conversation-analysis/internal/domain"
	"conversation-analysis/internal/domain/model"
	"conversation-analysis/internal/domain/ports/adapter"
	"conversation-analysis/internal/infra/logging"
)

// Runner consumes one named queue with a fixed-size goroutine pool and
// dispatches through the registry. Sequential queues run with concurrency 1.
type Runner struct {
	broker   adapter.TaskBroker
	registry *Registry
	router   *FailureRouter
	queue    string
	workers  int
	timeout  time.Duration
	log      *zerolog.Logger

	wg sync.WaitGroup
}

func NewRunner(
	broker adapter.TaskBroker,
	registry *Registry,
	router *FailureRouter,
	queue string,
	workers int,
	receiveTimeout time.Duration,
	logger *zerolog.Logger,
) *Runner {
	if workers <= 0 {
		workers = 1
	}
	l := logger.With().Str("component", "Runner").Str("queue", queue).Logger()
	return &Runner{
		broker:   broker,
		registry: registry,
		router:   router,
		queue:    queue,
		workers:  workers,
		timeout:  receiveTimeout,
		log:      &l,
	}
}

// Start launches the consumer goroutines. They exit when ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.log.Info().Int("workers", r.workers).Msg("queue consumer started")
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.loop(ctx)
		}()
	}
}

// Wait blocks until all consumers have drained after cancellation.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := r.broker.Receive(ctx, r.queue, r.timeout)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) || ctx.Err() != nil {
				continue
			}
			r.log.Error().Err(err).Msg("receive failed")
			// Brief pause so a broken broker connection doesn't spin hot.
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		r.handleOne(ctx, task)
	}
}

func (r *Runner) handleOne(ctx context.Context, task *model.Task) {
	// The delivered envelope is what Ack removes from the ledger; keep it
	// pristine and hand handlers their own copy.
	delivered := *task

	ctx = logging.WithTaskID(ctx, task.ID)
	if task.RunID != "" {
		ctx = logging.WithRunID(ctx, task.RunID)
	}

	h, ok := r.registry.Resolve(task.Kind)
	if !ok {
		// No handler can ever exist for this kind; dead-letter, not retry.
		r.finishFailure(ctx, &delivered, NonRetryable(errors.New("no handler for task kind "+string(task.Kind))))
		return
	}

	work := delivered
	if err := h.Handle(ctx, &work); err != nil {
		r.finishFailure(ctx, &delivered, err)
		return
	}
	if err := r.broker.Ack(ctx, &delivered); err != nil {
		// Redelivery of a completed task is harmless: handlers are
		// idempotent against the record state machine.
		r.log.Warn().Err(err).Str("task_id", delivered.ID).Msg("ack failed after success")
	}
}

func (r *Runner) finishFailure(ctx context.Context, delivered *model.Task, cause error) {
	if err := r.router.OnFailure(ctx, delivered, cause); err != nil {
		// Could not schedule a retry nor write a dead letter: leave the
		// delivery on the processing ledger for the reaper.
		r.log.Error().Err(err).Str("task_id", delivered.ID).Msg("failure routing failed; leaving unacked")
		return
	}
	if err := r.broker.Ack(ctx, delivered); err != nil {
		r.log.Warn().Err(err).Str("task_id", delivered.ID).Msg("ack failed after failure routing")
	}
}
