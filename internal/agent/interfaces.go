package agent

import (
	"context"
	"time"
)

// Job is a unit of work executed by the orchestrator's worker pool.
// Execute must honor ctx cancellation on blocking operations.
type Job interface {
	Execute(ctx context.Context) (any, error)
}

// JobFunc adapts a plain function to the Job interface.
type JobFunc func(ctx context.Context) (any, error)

// Execute calls f(ctx).
func (f JobFunc) Execute(ctx context.Context) (any, error) {
	return f(ctx)
}

// HistorySink persists terminal task records.
type HistorySink interface {
	Record(ctx context.Context, rec HistoryRecord) error
	Recent(ctx context.Context, limit int) ([]HistoryRecord, error)
}

// Publisher emits events to an external message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notifier delivers alerts to a human-facing channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique task identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
