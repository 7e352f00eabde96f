package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

// runWorker pulls tasks from the queue until Stop is called. The
// bounded dequeue wait keeps workers responsive to the quit signal
// without busy-polling an empty queue.
func (o *Orchestrator) runWorker(ctx context.Context, id int) {
	log := o.log.With(zap.Int("worker", id))
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		select {
		case <-o.quit:
			return
		case <-ctx.Done():
			return
		default:
		}

		t, ok, err := o.queue.pop(ctx, o.opts.DequeueTimeout)
		if err != nil {
			return
		}
		if !ok {
			continue
		}
		metrics.SetQueueDepth(o.queue.len())
		o.execute(ctx, log, t)
	}
}

// execute runs one task to a terminal status, retrying in place with
// exponential backoff. The backoff sleep is deliberately not cut short
// by shutdown so an accepted task always reaches a terminal state.
func (o *Orchestrator) execute(ctx context.Context, log *zap.Logger, t *task) {
	if !o.state.markRunning(t, o.deps.Clock.Now()) {
		// Cancelled while queued.
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	log = log.With(zap.String("task_id", t.id), zap.String("task", t.name))

	for {
		result, err := o.runJob(ctx, t)
		if err == nil {
			o.state.markCompleted(t, result, o.deps.Clock.Now())
			log.Info("task completed", zap.Int("retries", t.retryCount))
			o.finalize(t)
			return
		}

		if agent.IsFatal(err) {
			o.state.markFailed(t, err, o.deps.Clock.Now())
			log.Error("task failed permanently", zap.Error(err))
			o.finalize(t)
			return
		}

		if t.retryCount >= t.maxRetries {
			o.state.markFailed(t, err, o.deps.Clock.Now())
			log.Error("task failed after exhausting retries",
				zap.Int("retries", t.retryCount),
				zap.Error(err))
			o.finalize(t)
			return
		}

		attempt := o.state.incRetry(t)
		metrics.ObserveRetry()
		delay := o.backoff(attempt)
		log.Warn("task attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		time.Sleep(delay)
	}
}

// runJob invokes the job, converting panics into errors so one bad
// task cannot take down the worker pool.
func (o *Orchestrator) runJob(ctx context.Context, t *task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agent.Fatal(panicError{value: r})
		}
	}()
	return t.job.Execute(ctx)
}

// backoff returns initial * 2^(attempt-1) clamped to the ceiling.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.opts.BackoffInitial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.opts.BackoffMax {
			return o.opts.BackoffMax
		}
	}
	if delay > o.opts.BackoffMax {
		return o.opts.BackoffMax
	}
	return delay
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("job panicked: %v", p.value)
}
