package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// queueItem is one admission queue entry.
type queueItem struct {
	taskID   string
	priority TaskPriority
	seq      uint64
}

// itemHeap orders entries by priority rank descending, then by submission
// sequence ascending (FIFO within a priority band).
type itemHeap []queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	ri, rj := h[i].priority.Rank(), h[j].priority.Rank()
	if ri != rj {
		return ri > rj
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// taskQueue is the priority-ordered admission queue shared between the
// submitting caller and all workers. Higher-priority entries dequeue first;
// ties break by submission order.
type taskQueue struct {
	mu    sync.Mutex
	items itemHeap
	seq   uint64
	wake  chan struct{}
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{wake: make(chan struct{}, 1)}
	heap.Init(&q.items)
	return q
}

// Enqueue adds a task id to the queue.
func (q *taskQueue) Enqueue(taskID string, priority TaskPriority) {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queueItem{taskID: taskID, priority: priority, seq: q.seq})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the highest-priority task id, blocking until
// an entry is available or the context is done. The poll interval bounds how
// long a worker waits before re-checking the shutdown signal, so a wakeup
// consumed by another worker never strands this one.
func (q *taskQueue) Dequeue(ctx context.Context, pollInterval time.Duration) (string, bool) {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			item := heap.Pop(&q.items).(queueItem)
			q.mu.Unlock()
			return item.taskID, true
		}
		q.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(pollInterval)

		select {
		case <-ctx.Done():
			return "", false
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// Len returns the number of entries waiting in the queue.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
