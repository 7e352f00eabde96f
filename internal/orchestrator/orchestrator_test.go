package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/clock/system"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/id/uuid"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Init()
	m.Run()
}

// recordingSink captures terminal records in memory.
type recordingSink struct {
	mu   sync.Mutex
	recs []agent.HistoryRecord
}

func (s *recordingSink) Record(_ context.Context, rec agent.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) Recent(_ context.Context, limit int) ([]agent.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]agent.HistoryRecord, n)
	copy(out, s.recs[len(s.recs)-n:])
	return out, nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// recordingPublisher captures published events.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return fmt.Sprintf("msg-%d", len(p.topics)), nil
}

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	o, err := New(Deps{
		Logger:  zap.NewNop(),
		Clock:   system.New(),
		IDs:     uuid.New(),
		History: sink,
	}, opts)
	require.NoError(t, err)
	return o, sink
}

func noopJob() agent.Job {
	return agent.JobFunc(func(context.Context) (any, error) { return "ok", nil })
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Options{})
	require.Error(t, err)

	_, err = New(Deps{Logger: zap.NewNop()}, Options{})
	require.Error(t, err)
}

func TestExecutionFollowsPriorityOrder(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
	})

	var mu sync.Mutex
	var order []string
	record := func(name string) agent.Job {
		return agent.JobFunc(func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		})
	}

	// Enqueue before starting so the single worker sees all three.
	_, err := o.Submit(context.Background(), "B", record("B"), WithPriority(agent.PriorityLow))
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), "C", record("C"), WithPriority(agent.PriorityCritical))
	require.NoError(t, err)
	_, err = o.Submit(context.Background(), "A", record("A"), WithPriority(agent.PriorityHigh))
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"C", "A", "B"}, order)
}

func TestSubmitAssignsUniqueIDsUnderContention(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{QueueCapacity: 2000})

	const n = 1000
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := o.Submit(context.Background(), "load", noopJob())
			if err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, n)
	require.Equal(t, n, o.Stats().TotalTasks)
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	o, sink := newTestOrchestrator(t, Options{
		Workers:        1,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		DequeueTimeout: 10 * time.Millisecond,
	})

	var attempts int32
	var mu sync.Mutex
	job := agent.JobFunc(func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts <= 2 {
			return nil, errors.New("transient")
		}
		return "done", nil
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Submit(context.Background(), "flaky", job)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := o.Task(id)
		return err == nil && snap.Status == agent.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := o.Task(id)
	require.NoError(t, err)
	require.Equal(t, 2, snap.RetryCount)
	require.Equal(t, "done", snap.Result)
	require.Equal(t, 1, sink.count())
}

func TestRetryExhaustionFailsTask(t *testing.T) {
	t.Parallel()

	o, sink := newTestOrchestrator(t, Options{
		Workers:        1,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     4 * time.Millisecond,
		DequeueTimeout: 10 * time.Millisecond,
	})

	var attempts int32
	var mu sync.Mutex
	job := agent.JobFunc(func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return nil, errors.New("persistent")
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Submit(context.Background(), "doomed", job)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := o.Task(id)
		return err == nil && snap.Status == agent.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	// Initial attempt + 3 retries = 4 attempts.
	mu.Lock()
	require.Equal(t, int32(4), attempts)
	mu.Unlock()

	snap, err := o.Task(id)
	require.NoError(t, err)
	require.Equal(t, 3, snap.RetryCount)
	require.Contains(t, snap.Error, "persistent")
	require.Equal(t, 1, sink.count())
}

func TestFatalErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		DequeueTimeout: 10 * time.Millisecond,
	})

	var attempts int32
	var mu sync.Mutex
	job := agent.JobFunc(func(context.Context) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return nil, agent.Fatal(errors.New("bad input"))
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Submit(context.Background(), "fatal", job)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := o.Task(id)
		return err == nil && snap.Status == agent.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.Equal(t, int32(1), attempts)
	mu.Unlock()
}

func TestPanickingJobFailsWithoutKillingWorker(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	panicID, err := o.Submit(context.Background(), "boom", agent.JobFunc(func(context.Context) (any, error) {
		panic("kaboom")
	}))
	require.NoError(t, err)

	okID, err := o.Submit(context.Background(), "after", noopJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		a, errA := o.Task(panicID)
		b, errB := o.Task(okID)
		return errA == nil && errB == nil &&
			a.Status == agent.StatusFailed && b.Status == agent.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	snap, err := o.Task(panicID)
	require.NoError(t, err)
	require.Contains(t, snap.Error, "panicked")
}

func TestSubmitQueueFullRollsBackRegistration(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{QueueCapacity: 1})

	_, err := o.Submit(context.Background(), "first", noopJob())
	require.NoError(t, err)

	id, err := o.Submit(context.Background(), "second", noopJob())
	require.Error(t, err)
	require.True(t, errors.Is(err, agent.ErrQueueFull))
	require.Empty(t, id)

	stats := o.Stats()
	require.Equal(t, 1, stats.TotalTasks)
	require.Equal(t, 1, stats.Pending)
}

func TestStartStopLifecycle(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{DequeueTimeout: 10 * time.Millisecond})

	require.NoError(t, o.Start(context.Background()))
	require.True(t, o.Stats().Running)
	require.ErrorIs(t, o.Start(context.Background()), agent.ErrAlreadyRunning)

	require.NoError(t, o.Stop(context.Background()))
	require.False(t, o.Stats().Running)
	require.ErrorIs(t, o.Stop(context.Background()), agent.ErrNotRunning)
}

func TestStopWaitsForInFlightTask(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
	})

	started := make(chan struct{})
	job := agent.JobFunc(func(context.Context) (any, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return "slow done", nil
	})

	require.NoError(t, o.Start(context.Background()))
	id, err := o.Submit(context.Background(), "slow", job)
	require.NoError(t, err)

	<-started
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Stop(ctx))

	snap, err := o.Task(id)
	require.NoError(t, err)
	require.Equal(t, agent.StatusCompleted, snap.Status)
}

func TestCancelPendingTask(t *testing.T) {
	t.Parallel()

	o, sink := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
	})

	executed := make(chan struct{}, 1)
	job := agent.JobFunc(func(context.Context) (any, error) {
		executed <- struct{}{}
		return nil, nil
	})

	id, err := o.Submit(context.Background(), "unwanted", job)
	require.NoError(t, err)
	require.NoError(t, o.Cancel(id))

	snap, err := o.Task(id)
	require.NoError(t, err)
	require.Equal(t, agent.StatusCancelled, snap.Status)
	require.Equal(t, 1, sink.count())

	// The worker must drop the cancelled task instead of running it.
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	select {
	case <-executed:
		t.Fatal("cancelled task was executed")
	case <-time.After(200 * time.Millisecond):
	}

	require.ErrorIs(t, o.Cancel(id), agent.ErrTaskNotCancellable)
	require.ErrorIs(t, o.Cancel("missing"), agent.ErrTaskNotFound)
}

func TestTerminalTasksEvictedBeyondRetention(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		RetainTasks:    2,
		DequeueTimeout: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := o.Submit(context.Background(), fmt.Sprintf("evict-%d", i), noopJob())
		require.NoError(t, err)
		ids = append(ids, id)

		require.Eventually(t, func() bool {
			snap, err := o.Task(id)
			return err == nil && snap.Status.Terminal()
		}, 2*time.Second, 5*time.Millisecond)
	}

	require.LessOrEqual(t, o.Stats().TotalTasks, 2)

	// The oldest tasks are gone from the registry.
	_, err := o.Task(ids[0])
	require.ErrorIs(t, err, agent.ErrTaskNotFound)
}

func TestSnapshotsAreImmutableCopies(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{})

	id, err := o.Submit(context.Background(), "frozen", noopJob())
	require.NoError(t, err)

	first, err := o.Task(id)
	require.NoError(t, err)
	first.Name = "tampered"
	first.Status = agent.StatusFailed

	second, err := o.Task(id)
	require.NoError(t, err)
	require.Equal(t, "frozen", second.Name)
	require.Equal(t, agent.StatusPending, second.Status)
}

func TestTerminalEventsPublished(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	pub := &recordingPublisher{}
	o, err := New(Deps{
		Logger:    zap.NewNop(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		History:   sink,
		Publisher: pub,
	}, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		EventTopic:     "agent-events",
	})
	require.NoError(t, err)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Submit(context.Background(), "observed", noopJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := o.Task(id)
		return err == nil && snap.Status == agent.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return len(pub.topics) == 1 && pub.topics[0] == "agent-events"
	}, time.Second, 10*time.Millisecond)
}

func TestHistoryReadsThroughSink(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, Options{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
	})

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop(context.Background()) //nolint:errcheck

	id, err := o.Submit(context.Background(), "historic", noopJob())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		recs, err := o.History(context.Background(), 10)
		return err == nil && len(recs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	recs, err := o.History(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, id, recs[0].ID)
	require.Equal(t, agent.StatusCompleted, recs[0].Status)
}
