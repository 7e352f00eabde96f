package orchestrator

import (
	"sync"
	"time"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// registry is the mutex-guarded home of all task and schedule state.
// Terminal tasks beyond the retention bound are evicted oldest-first
// so the map cannot grow without limit.
type registry struct {
	mu        sync.Mutex
	tasks     map[string]*task
	order     []string
	schedules map[string]*schedule
	retain    int
	running   bool
}

func newRegistry(retain int) *registry {
	return &registry{
		tasks:     make(map[string]*task),
		schedules: make(map[string]*schedule),
		retain:    retain,
	}
}

// setRunning flips the running flag. Returns false when the flag
// already held the requested value.
func (r *registry) setRunning(v bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running == v {
		return false
	}
	r.running = v
	return true
}

func (r *registry) add(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.id] = t
	r.order = append(r.order, t.id)
	r.evictLocked()
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops the oldest terminal tasks while the registry holds
// more than retain entries. Pending and running tasks are never evicted.
func (r *registry) evictLocked() {
	if len(r.tasks) <= r.retain {
		return
	}
	kept := r.order[:0]
	excess := len(r.tasks) - r.retain
	for _, id := range r.order {
		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		if excess > 0 && t.status.Terminal() {
			delete(r.tasks, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

func (r *registry) snapshot(id string) (agent.TaskSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return agent.TaskSnapshot{}, agent.ErrTaskNotFound
	}
	return t.snapshot(), nil
}

func (r *registry) snapshots() []agent.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]agent.TaskSnapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.snapshot())
	}
	return out
}

func (r *registry) snapshotOf(t *task) agent.TaskSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.snapshot()
}

func (r *registry) recordOf(t *task) agent.HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return t.historyRecord()
}

func (r *registry) counts() (total, scheduled int, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks), len(r.schedules), r.running
}

// markRunning transitions a dequeued task to running. Returns false if
// the task left the pending state, which happens when it was cancelled
// while queued.
func (r *registry) markRunning(t *task, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.status != agent.StatusPending {
		return false
	}
	t.status = agent.StatusRunning
	started := now
	t.startedAt = &started
	return true
}

func (r *registry) markCompleted(t *task, result any, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.status = agent.StatusCompleted
	t.result = result
	completed := now
	t.completedAt = &completed
}

func (r *registry) markFailed(t *task, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.status = agent.StatusFailed
	t.err = err
	completed := now
	t.completedAt = &completed
}

func (r *registry) incRetry(t *task) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.retryCount++
	return t.retryCount
}

// cancelPending moves a pending task to cancelled. The queue still
// holds the task; workers drop it when markRunning reports false.
func (r *registry) cancelPending(id string, now time.Time) (*task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, agent.ErrTaskNotFound
	}
	if t.status != agent.StatusPending {
		return nil, agent.ErrTaskNotCancellable
	}
	t.status = agent.StatusCancelled
	completed := now
	t.completedAt = &completed
	return t, nil
}

func (r *registry) addSchedule(s *schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.id] = s
}

func (r *registry) schedule(id string) (*schedule, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	return s, ok
}

func (r *registry) removeSchedule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schedules[id]; !ok {
		return false
	}
	delete(r.schedules, id)
	return true
}

func (r *registry) scheduleList() []*schedule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		out = append(out, s)
	}
	return out
}
