package orchestrator

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
)

// taskHeap orders tasks by priority, then by submission sequence so
// equal priorities dequeue first-in first-out.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded, mutex-guarded heap with a wakeup channel
// so consumers can wait with a timeout instead of spinning.
type priorityQueue struct {
	mu       sync.Mutex
	heap     taskHeap
	capacity int
	seq      uint64
	wakeup   chan struct{}
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{
		capacity: capacity,
		wakeup:   make(chan struct{}, 1),
	}
}

// push adds a task, stamping its FIFO sequence. Returns
// agent.ErrQueueFull when the queue is at capacity.
func (q *priorityQueue) push(t *task) error {
	q.mu.Lock()
	if len(q.heap) >= q.capacity {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", t.id, agent.ErrQueueFull)
	}
	q.seq++
	t.seq = q.seq
	heap.Push(&q.heap, t)
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the highest-priority task, waiting up to timeout for one
// to arrive. The second return is false when the wait timed out. The
// error is non-nil only when ctx was canceled.
func (q *priorityQueue) pop(ctx context.Context, timeout time.Duration) (*task, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.heap) > 0 {
			t := heap.Pop(&q.heap).(*task)
			q.mu.Unlock()
			return t, true, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-deadline.C:
			return nil, false, nil
		case <-q.wakeup:
			// Another consumer may have won the race; loop and retry.
		}
	}
}

// len reports the number of queued tasks.
func (q *priorityQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
