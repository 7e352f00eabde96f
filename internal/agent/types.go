// Package agent defines core types shared across subsystems.
package agent

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

// Task status values tracked in the registry and persisted to history.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority controls dequeue order; lower values are served first.
type Priority int

// Priority levels, most urgent first.
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a priority name to its ordinal value.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// TaskSnapshot is an immutable copy of a task's current state, returned
// by status queries. Mutating a snapshot never affects the registry.
type TaskSnapshot struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
}

// HistoryRecord is the immutable terminal snapshot of a task, written
// exactly once when the task reaches a terminal status.
type HistoryRecord struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Priority    Priority      `json:"priority"`
	Result      string        `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`
	RetryCount  int           `json:"retry_count"`
}

// QueueStats summarizes orchestrator state for monitoring endpoints.
type QueueStats struct {
	Pending        int  `json:"pending"`
	TotalTasks     int  `json:"total_tasks"`
	ScheduledTasks int  `json:"scheduled_tasks"`
	Workers        int  `json:"workers"`
	Running        bool `json:"running"`
}

// ScheduleSnapshot is an immutable copy of a recurring task entry.
type ScheduleSnapshot struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval,omitempty"`
	CronExpr string        `json:"cron_expr,omitempty"`
	Enabled  bool          `json:"enabled"`
	LastRun  *time.Time    `json:"last_run,omitempty"`
	NextRun  *time.Time    `json:"next_run,omitempty"`
	RunCount int           `json:"run_count"`
}

// AlertLevel classifies notifications sent through a Notifier.
type AlertLevel string

// Alert severity levels.
const (
	AlertInfo    AlertLevel = "info"
	AlertSuccess AlertLevel = "success"
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert is a human-facing notification about a noteworthy event.
type Alert struct {
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Level   AlertLevel `json:"level"`
}
