package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

func TestScheduleFiresAtInterval(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		SchedulerTick:  5 * time.Millisecond,
	})

	var mu sync.Mutex
	var fired []string
	record := agent.JobFunc(func(context.Context) (any, error) {
		return "tick", nil
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Schedule("heartbeat", 30*time.Millisecond, record)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		for _, s := range o.Schedules() {
			if s.ID == id && s.RunCount >= 3 {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// Fired tasks are named after the schedule with a run counter.
	mu.Lock()
	for _, snap := range o.Tasks() {
		fired = append(fired, snap.Name)
	}
	mu.Unlock()

	var runs []string
	for _, name := range fired {
		if strings.HasPrefix(name, "heartbeat_run_") {
			runs = append(runs, name)
		}
	}
	require.GreaterOrEqual(t, len(runs), 3)
	require.Contains(t, fired, "heartbeat_run_1")
	require.Contains(t, fired, "heartbeat_run_2")
}

func TestScheduleDoesNotFireBeforeInterval(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		SchedulerTick:  5 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	start := time.Now()
	id, err := o.Schedule("deliberate", 500*time.Millisecond, noopJob())
	require.NoError(t, err)

	// Well before the interval the schedule must not have fired,
	// even though the tick loop has run many times by now.
	time.Sleep(100 * time.Millisecond)
	for _, s := range o.Schedules() {
		if s.ID == id {
			require.Zero(t, s.RunCount, "schedule fired before its interval elapsed")
		}
	}

	require.Eventually(t, func() bool {
		for _, s := range o.Schedules() {
			if s.ID == id && s.RunCount >= 1 {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)

	// The first fire comes one full interval after registration.
	require.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestScheduleValidatesInput(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{})

	_, err := o.Schedule("bad", 0, noopJob())
	require.Error(t, err)

	_, err = o.Schedule("bad", time.Second, nil)
	require.Error(t, err)
}

func TestScheduleCronValidatesExpression(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{})

	id, err := o.ScheduleCron("nightly", "0 3 * * *", noopJob())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	_, err = o.ScheduleCron("broken", "not a cron", noopJob())
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid cron expression")
}

func TestCronEntriesDoNotFire(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		SchedulerTick:  5 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	// Every minute of every day; would fire immediately if cron
	// entries were driven by the tick loop.
	id, err := o.ScheduleCron("cron-idle", "* * * * *", noopJob())
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	for _, s := range o.Schedules() {
		if s.ID == id {
			require.Zero(t, s.RunCount)
			return
		}
	}
	t.Fatal("cron schedule disappeared")
}

func TestDisableAndEnableSchedule(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		SchedulerTick:  5 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Schedule("pausable", 20*time.Millisecond, noopJob())
	require.NoError(t, err)

	require.NoError(t, o.DisableSchedule(id))
	time.Sleep(100 * time.Millisecond)

	for _, s := range o.Schedules() {
		if s.ID == id {
			require.Zero(t, s.RunCount, "disabled schedule must not fire")
		}
	}

	require.NoError(t, o.EnableSchedule(id))
	require.Eventually(t, func() bool {
		for _, s := range o.Schedules() {
			if s.ID == id && s.RunCount >= 1 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, o.RemoveSchedule(id))
	require.ErrorIs(t, o.RemoveSchedule(id), agent.ErrScheduleNotFound)
	require.ErrorIs(t, o.EnableSchedule(id), agent.ErrScheduleNotFound)
}

func TestScheduleStatsCount(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{})

	_, err := o.Schedule("one", time.Hour, noopJob())
	require.NoError(t, err)
	_, err = o.ScheduleCron("two", "0 0 * * *", noopJob())
	require.NoError(t, err)

	require.Equal(t, 2, o.Stats().ScheduledTasks)
}
