// Package memory provides an in-memory history sink for tests and
// single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// Sink keeps the most recent terminal records in a bounded slice.
type Sink struct {
	mu      sync.Mutex
	records []agent.HistoryRecord
	maxRows int
}

// New creates a Sink retaining up to maxRows records. A non-positive
// maxRows falls back to 1000.
func New(maxRows int) *Sink {
	if maxRows <= 0 {
		maxRows = 1000
	}
	return &Sink{maxRows: maxRows}
}

// Record appends rec, upserting by ID and dropping the oldest entry
// once the bound is reached.
func (s *Sink) Record(_ context.Context, rec agent.HistoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}

	s.records = append(s.records, rec)
	if len(s.records) > s.maxRows {
		s.records = s.records[len(s.records)-s.maxRows:]
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Sink) Recent(_ context.Context, limit int) ([]agent.HistoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]agent.HistoryRecord, 0, n)
	for i := len(s.records) - 1; i >= len(s.records)-n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Len reports the number of stored records.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
