package tasks

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend keeps queued tasks in process memory. Used by the in-memory
// storage engine and in tests; nothing survives a restart.
type MemoryBackend struct {
	mu    sync.Mutex
	queue []*Task
}

// NewMemoryBackend creates an empty in-memory queue.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Put(ctx context.Context, t *Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *t
	b.queue = append(b.queue, &cp)
	sort.SliceStable(b.queue, func(i, j int) bool {
		return b.queue[i].RunAt.Before(b.queue[j].RunAt)
	})
	return nil
}

// Claim picks the highest-priority due task; ties go to the earliest RunAt.
func (b *MemoryBackend) Claim(ctx context.Context, now time.Time) (*Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	best := -1
	for i, t := range b.queue {
		if t.RunAt.After(now) {
			break // queue is sorted by RunAt
		}
		if best < 0 || t.Priority > b.queue[best].Priority {
			best = i
		}
	}
	if best < 0 {
		return nil, nil
	}
	t := b.queue[best]
	b.queue = append(b.queue[:best], b.queue[best+1:]...)
	return t, nil
}

func (b *MemoryBackend) Pending(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue), nil
}

func (b *MemoryBackend) Close() error { return nil }
