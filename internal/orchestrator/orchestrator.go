// Package orchestrator coordinates task submission, a prioritized
// worker pool, recurring schedules, and terminal history persistence.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

// Options tunes pool size, queue bounds, and retry behavior. Zero
// values fall back to production defaults.
type Options struct {
	Workers        int
	QueueCapacity  int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	RetainTasks    int
	DequeueTimeout time.Duration
	SchedulerTick  time.Duration
	EventTopic     string
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1000
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.RetainTasks <= 0 {
		o.RetainTasks = 10000
	}
	if o.DequeueTimeout <= 0 {
		o.DequeueTimeout = time.Second
	}
	if o.SchedulerTick <= 0 {
		o.SchedulerTick = time.Second
	}
	if o.EventTopic == "" {
		o.EventTopic = "task-events"
	}
	return o
}

// Deps collects the orchestrator's collaborators. Logger, Clock, IDs,
// and History are required; Publisher and Notifier are optional.
type Deps struct {
	Logger    *zap.Logger
	Clock     agent.Clock
	IDs       agent.IDGenerator
	History   agent.HistorySink
	Publisher agent.Publisher
	Notifier  agent.Notifier
}

func (d Deps) validate() error {
	if d.Logger == nil {
		return fmt.Errorf("orchestrator: logger is required")
	}
	if d.Clock == nil {
		return fmt.Errorf("orchestrator: clock is required")
	}
	if d.IDs == nil {
		return fmt.Errorf("orchestrator: id generator is required")
	}
	if d.History == nil {
		return fmt.Errorf("orchestrator: history sink is required")
	}
	return nil
}

// Orchestrator owns the task registry, the priority queue, the worker
// pool, and the recurring schedule table.
type Orchestrator struct {
	opts  Options
	deps  Deps
	log   *zap.Logger
	queue *priorityQueue

	state *registry

	cronParser cron.Parser

	quit chan struct{}
	done chan struct{}
}

// New wires an Orchestrator from its dependencies.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Orchestrator{
		opts:  opts,
		deps:  deps,
		log:   deps.Logger,
		queue: newPriorityQueue(opts.QueueCapacity),
		state: newRegistry(opts.RetainTasks),
		cronParser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}, nil
}

// Start launches the worker pool and the schedule loop. It returns
// agent.ErrAlreadyRunning if called twice without an intervening Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.state.setRunning(true) {
		return agent.ErrAlreadyRunning
	}
	o.quit = make(chan struct{})
	o.done = make(chan struct{})

	workers := make(chan struct{}, o.opts.Workers+1)
	for i := 0; i < o.opts.Workers; i++ {
		go func(id int) {
			defer func() { workers <- struct{}{} }()
			o.runWorker(ctx, id)
		}(i)
	}
	go func() {
		defer func() { workers <- struct{}{} }()
		o.runScheduler(ctx)
	}()
	go func() {
		for i := 0; i < o.opts.Workers+1; i++ {
			<-workers
		}
		close(o.done)
	}()

	o.log.Info("orchestrator started",
		zap.Int("workers", o.opts.Workers),
		zap.Int("queue_capacity", o.opts.QueueCapacity))
	return nil
}

// Stop signals the pool to drain and waits for in-flight tasks to
// finish, up to ctx's deadline. Queued tasks that never started stay
// pending in the registry.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if !o.state.setRunning(false) {
		return agent.ErrNotRunning
	}
	close(o.quit)

	select {
	case <-o.done:
		o.log.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop orchestrator: %w", ctx.Err())
	}
}

// SubmitOption customizes one submission.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	priority   agent.Priority
	maxRetries int
}

// WithPriority overrides the default Normal priority.
func WithPriority(p agent.Priority) SubmitOption {
	return func(c *submitConfig) { c.priority = p }
}

// WithMaxRetries overrides the pool-wide retry budget for this task.
func WithMaxRetries(n int) SubmitOption {
	return func(c *submitConfig) { c.maxRetries = n }
}

// Submit registers a task and enqueues it for execution. The returned
// ID is unique across all submissions. When the queue is full the task
// is not registered and agent.ErrQueueFull is returned.
func (o *Orchestrator) Submit(ctx context.Context, name string, job agent.Job, opts ...SubmitOption) (string, error) {
	if job == nil {
		return "", fmt.Errorf("submit %q: job is nil", name)
	}
	cfg := submitConfig{priority: agent.PriorityNormal, maxRetries: o.opts.MaxRetries}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxRetries < 0 {
		cfg.maxRetries = 0
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("submit %q: %w", name, err)
	}

	t := &task{
		id:         id,
		name:       name,
		priority:   cfg.priority,
		job:        job,
		status:     agent.StatusPending,
		createdAt:  o.deps.Clock.Now(),
		maxRetries: cfg.maxRetries,
	}

	o.state.add(t)
	if err := o.queue.push(t); err != nil {
		o.state.remove(id)
		return "", err
	}

	metrics.ObserveSubmit(cfg.priority.String())
	metrics.SetQueueDepth(o.queue.len())
	o.log.Debug("task submitted",
		zap.String("task_id", id),
		zap.String("name", name),
		zap.Stringer("priority", cfg.priority))
	return id, nil
}

// Task returns an immutable snapshot of the task with the given ID.
func (o *Orchestrator) Task(id string) (agent.TaskSnapshot, error) {
	return o.state.snapshot(id)
}

// Tasks returns snapshots of every registered task, newest first.
func (o *Orchestrator) Tasks() []agent.TaskSnapshot {
	snaps := o.state.snapshots()
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps
}

// Cancel moves a pending task to cancelled. Running and terminal tasks
// cannot be cancelled.
func (o *Orchestrator) Cancel(id string) error {
	t, err := o.state.cancelPending(id, o.deps.Clock.Now())
	if err != nil {
		return err
	}
	o.finalize(t)
	return nil
}

// Stats summarizes current orchestrator state.
func (o *Orchestrator) Stats() agent.QueueStats {
	total, scheduled, running := o.state.counts()
	return agent.QueueStats{
		Pending:        o.queue.len(),
		TotalTasks:     total,
		ScheduledTasks: scheduled,
		Workers:        o.opts.Workers,
		Running:        running,
	}
}

// History returns up to limit terminal records from the sink.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]agent.HistoryRecord, error) {
	return o.deps.History.Recent(ctx, limit)
}

// finalize persists a terminal task and emits its event. Called once
// per task; the registry guarantees the terminal transition happened
// exactly once before this runs.
func (o *Orchestrator) finalize(t *task) {
	snap := o.state.snapshotOf(t)
	rec := o.state.recordOf(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := o.deps.History.Record(ctx, rec); err != nil {
		o.log.Error("record task history",
			zap.String("task_id", rec.ID),
			zap.Error(err))
	}

	if o.deps.Publisher != nil {
		payload, err := json.Marshal(snap)
		if err != nil {
			o.log.Error("encode task event", zap.String("task_id", rec.ID), zap.Error(err))
		} else if _, err := o.deps.Publisher.Publish(ctx, o.opts.EventTopic, json.RawMessage(payload)); err != nil {
			o.log.Warn("publish task event",
				zap.String("task_id", rec.ID),
				zap.Error(err))
		}
	}

	if o.deps.Notifier != nil && rec.Status == agent.StatusFailed {
		alert := agent.Alert{
			Title:   "Task failed",
			Message: fmt.Sprintf("%s (%s) failed after %d retries: %s", rec.Name, rec.ID, rec.RetryCount, rec.Error),
			Level:   agent.AlertError,
		}
		if err := o.deps.Notifier.Send(ctx, alert); err != nil {
			o.log.Warn("send failure alert", zap.String("task_id", rec.ID), zap.Error(err))
		}
	}

	metrics.ObserveCompletion(rec.Name, string(rec.Status), rec.Duration)
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
