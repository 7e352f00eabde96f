package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

// schedule is one recurring task entry. Interval entries fire from the
// scheduler loop; cron entries are validated and stored but currently
// never fire, matching the scheduler's interval-only execution model.
type schedule struct {
	id       string
	name     string
	interval time.Duration
	cronExpr string
	job      agent.Job
	priority agent.Priority

	enabled  bool
	lastRun  *time.Time
	nextRun  *time.Time
	runCount int
}

func (s *schedule) snapshot() agent.ScheduleSnapshot {
	snap := agent.ScheduleSnapshot{
		ID:       s.id,
		Name:     s.name,
		Interval: s.interval,
		CronExpr: s.cronExpr,
		Enabled:  s.enabled,
		RunCount: s.runCount,
	}
	if s.lastRun != nil {
		last := *s.lastRun
		snap.LastRun = &last
	}
	if s.nextRun != nil {
		next := *s.nextRun
		snap.NextRun = &next
	}
	return snap
}

// Schedule registers a recurring task that fires every interval. The
// first fire happens one interval after registration.
func (o *Orchestrator) Schedule(name string, interval time.Duration, job agent.Job, opts ...SubmitOption) (string, error) {
	if job == nil {
		return "", fmt.Errorf("schedule %q: job is nil", name)
	}
	if interval <= 0 {
		return "", fmt.Errorf("schedule %q: interval must be positive", name)
	}
	cfg := submitConfig{priority: agent.PriorityNormal}
	for _, opt := range opts {
		opt(&cfg)
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", name, err)
	}

	next := o.deps.Clock.Now().Add(interval)
	s := &schedule{
		id:       id,
		name:     name,
		interval: interval,
		job:      job,
		priority: cfg.priority,
		enabled:  true,
		nextRun:  &next,
	}
	o.state.addSchedule(s)

	o.log.Info("schedule registered",
		zap.String("schedule_id", id),
		zap.String("name", name),
		zap.Duration("interval", interval))
	return id, nil
}

// ScheduleCron registers a cron-style entry. The expression is parsed
// up front so malformed input fails fast; execution of cron entries is
// not wired into the tick loop.
func (o *Orchestrator) ScheduleCron(name, expr string, job agent.Job, opts ...SubmitOption) (string, error) {
	if job == nil {
		return "", fmt.Errorf("schedule %q: job is nil", name)
	}
	if _, err := o.cronParser.Parse(expr); err != nil {
		return "", fmt.Errorf("schedule %q: invalid cron expression: %w", name, err)
	}
	cfg := submitConfig{priority: agent.PriorityNormal}
	for _, opt := range opts {
		opt(&cfg)
	}

	id, err := o.deps.IDs.NewID()
	if err != nil {
		return "", fmt.Errorf("schedule %q: %w", name, err)
	}

	s := &schedule{
		id:       id,
		name:     name,
		cronExpr: expr,
		job:      job,
		priority: cfg.priority,
		enabled:  true,
	}
	o.state.addSchedule(s)

	o.log.Info("cron schedule registered",
		zap.String("schedule_id", id),
		zap.String("name", name),
		zap.String("cron", expr))
	return id, nil
}

// Schedules returns snapshots of every registered schedule.
func (o *Orchestrator) Schedules() []agent.ScheduleSnapshot {
	list := o.state.scheduleList()
	out := make([]agent.ScheduleSnapshot, 0, len(list))
	o.state.mu.Lock()
	for _, s := range list {
		out = append(out, s.snapshot())
	}
	o.state.mu.Unlock()
	return out
}

// EnableSchedule turns a paused schedule back on. The next fire is one
// full interval from now.
func (o *Orchestrator) EnableSchedule(id string) error {
	return o.updateSchedule(id, func(s *schedule) {
		s.enabled = true
		if s.interval > 0 {
			next := o.deps.Clock.Now().Add(s.interval)
			s.nextRun = &next
		}
	})
}

// DisableSchedule pauses a schedule without removing it.
func (o *Orchestrator) DisableSchedule(id string) error {
	return o.updateSchedule(id, func(s *schedule) {
		s.enabled = false
	})
}

// RemoveSchedule deletes a schedule permanently.
func (o *Orchestrator) RemoveSchedule(id string) error {
	if !o.state.removeSchedule(id) {
		return agent.ErrScheduleNotFound
	}
	return nil
}

func (o *Orchestrator) updateSchedule(id string, fn func(*schedule)) error {
	o.state.mu.Lock()
	defer o.state.mu.Unlock()
	s, ok := o.state.schedules[id]
	if !ok {
		return agent.ErrScheduleNotFound
	}
	fn(s)
	return nil
}

// runScheduler fires due interval entries once per tick.
func (o *Orchestrator) runScheduler(ctx context.Context) {
	ticker := time.NewTicker(o.opts.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-o.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.fireDue(ctx)
		}
	}
}

// fireDue submits every enabled interval entry whose next run time has
// arrived. The next run always advances, even when the queue rejects
// the submission, so a full queue cannot wedge the loop into
// resubmitting the same entry every tick.
func (o *Orchestrator) fireDue(ctx context.Context) {
	now := o.deps.Clock.Now()

	type firing struct {
		s    *schedule
		name string
		job  agent.Job
		prio agent.Priority
	}

	o.state.mu.Lock()
	var due []firing
	for _, s := range o.state.schedules {
		if !s.enabled || s.interval <= 0 || s.nextRun == nil {
			continue
		}
		if now.Before(*s.nextRun) {
			continue
		}
		due = append(due, firing{
			s:    s,
			name: fmt.Sprintf("%s_run_%d", s.name, s.runCount+1),
			job:  s.job,
			prio: s.priority,
		})
	}
	o.state.mu.Unlock()

	for _, f := range due {
		_, err := o.Submit(ctx, f.name, f.job, WithPriority(f.prio))

		o.state.mu.Lock()
		last := now
		next := now.Add(f.s.interval)
		f.s.nextRun = &next
		if err == nil {
			f.s.lastRun = &last
			f.s.runCount++
		}
		o.state.mu.Unlock()

		if err != nil {
			o.log.Warn("scheduled fire skipped",
				zap.String("schedule", f.s.name),
				zap.Error(err))
			continue
		}
		metrics.ObserveScheduledFire(f.s.name)
	}
}
