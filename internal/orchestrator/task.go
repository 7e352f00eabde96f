package orchestrator

import (
	"time"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// task is the registry's mutable record for one unit of work. All
// access happens under the orchestrator mutex; snapshots are handed
// out instead of pointers.
type task struct {
	id          string
	name        string
	priority    agent.Priority
	job         agent.Job
	status      agent.Status
	result      any
	err         error
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time
	retryCount  int
	maxRetries  int
	seq         uint64
}

func (t *task) snapshot() agent.TaskSnapshot {
	snap := agent.TaskSnapshot{
		ID:         t.id,
		Name:       t.name,
		Priority:   t.priority,
		Status:     t.status,
		Result:     t.result,
		CreatedAt:  t.createdAt,
		RetryCount: t.retryCount,
		MaxRetries: t.maxRetries,
	}
	if t.err != nil {
		snap.Error = t.err.Error()
	}
	if t.startedAt != nil {
		started := *t.startedAt
		snap.StartedAt = &started
	}
	if t.completedAt != nil {
		completed := *t.completedAt
		snap.CompletedAt = &completed
	}
	return snap
}

func (t *task) historyRecord() agent.HistoryRecord {
	rec := agent.HistoryRecord{
		ID:         t.id,
		Name:       t.name,
		Status:     t.status,
		Priority:   t.priority,
		CreatedAt:  t.createdAt,
		RetryCount: t.retryCount,
	}
	if t.result != nil {
		rec.Result = stringify(t.result)
	}
	if t.err != nil {
		rec.Error = t.err.Error()
	}
	if t.startedAt != nil {
		started := *t.startedAt
		rec.StartedAt = &started
	}
	if t.completedAt != nil {
		completed := *t.completedAt
		rec.CompletedAt = &completed
	}
	if t.startedAt != nil && t.completedAt != nil {
		rec.Duration = t.completedAt.Sub(*t.startedAt)
	}
	return rec
}
