package worker

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DueQueue orders action ids by due time. Pushing an id that is already
// queued moves it to the new due time.
type DueQueue interface {
	Push(ctx context.Context, actionID string, due time.Time) error
	// PopDue removes and returns up to max ids due at or before now.
	PopDue(ctx context.Context, now time.Time, max int) ([]string, error)
	// Next returns the earliest due time, or false when the queue is empty.
	Next(ctx context.Context) (time.Time, bool, error)
	Len(ctx context.Context) (int, error)
}

// MemoryQueue is an in-process min-heap DueQueue.
type MemoryQueue struct {
	mu    sync.Mutex
	items dueHeap
	index map[string]*dueItem
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{index: make(map[string]*dueItem)}
}

func (q *MemoryQueue) Push(_ context.Context, actionID string, due time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if it, ok := q.index[actionID]; ok {
		it.due = due
		heap.Fix(&q.items, it.pos)
		return nil
	}
	it := &dueItem{id: actionID, due: due}
	heap.Push(&q.items, it)
	q.index[actionID] = it
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, max int) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for q.items.Len() > 0 && (max <= 0 || len(out) < max) {
		if q.items[0].due.After(now) {
			break
		}
		it := heap.Pop(&q.items).(*dueItem)
		delete(q.index, it.id)
		out = append(out, it.id)
	}
	return out, nil
}

func (q *MemoryQueue) Next(_ context.Context) (time.Time, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return time.Time{}, false, nil
	}
	return q.items[0].due, true, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len(), nil
}

type dueItem struct {
	id  string
	due time.Time
	pos int
}

type dueHeap []*dueItem

func (h dueHeap) Len() int { return len(h) }

func (h dueHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}

func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *dueHeap) Push(x any) {
	it := x.(*dueItem)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
