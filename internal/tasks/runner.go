// Package tasks is a small durable background queue for post-commit work:
// entity extraction, relation inference and conflict arbitration run here so
// writes stay fast. Tasks carry a priority, an optional delay and a per-task
// retry budget, survive restarts when backed by SQLite, and are retried with
// quadratic backoff.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxRetries is the retry budget per task.
	DefaultMaxRetries = 3

	defaultWorkers      = 4
	defaultPollInterval = 200 * time.Millisecond
	defaultBackoffBase  = time.Second
)

// Task is one unit of queued work.
type Task struct {
	ID         string
	Type       string
	Payload    []byte
	Priority   int // higher runs first among due tasks
	Attempts   int
	MaxRetries int
	Backoff    time.Duration // retry backoff base, 0 uses the runner's
	RunAt      time.Time
	CreatedAt  time.Time
}

// Options tunes one enqueued task. The zero value selects the defaults.
type Options struct {
	Priority   int           // claim order among due tasks, default 0
	Delay      time.Duration // initial scheduling delay, default none
	MaxRetries int           // retry budget, default DefaultMaxRetries
	Backoff    time.Duration // backoff base, default the runner's
}

// Handler processes one task. A returned error schedules a retry until the
// task's budget runs out.
type Handler func(ctx context.Context, task *Task) error

// Backend stores queued tasks. claim removes the returned task from the
// backend; the runner re-enqueues it if the handler fails.
type Backend interface {
	Put(ctx context.Context, t *Task) error
	Claim(ctx context.Context, now time.Time) (*Task, error) // nil, nil when empty
	Pending(ctx context.Context) (int, error)
	Close() error
}

// Runner polls a backend with a fixed worker pool and dispatches tasks to
// registered handlers.
type Runner struct {
	backend      Backend
	workers      int
	pollInterval time.Duration
	backoffBase  time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the backend. workers < 1 selects the
// default pool size.
func NewRunner(backend Backend, workers int) *Runner {
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Runner{
		backend:      backend,
		workers:      workers,
		pollInterval: defaultPollInterval,
		backoffBase:  defaultBackoffBase,
		handlers:     make(map[string]Handler),
	}
}

// Handle registers the handler for one task type. Call before Start.
func (r *Runner) Handle(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Enqueue serializes payload as JSON and queues a task of the given type.
// At most one Options value applies.
func (r *Runner) Enqueue(ctx context.Context, taskType string, payload interface{}, opts ...Options) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("task payload marshal failed: %w", err)
	}
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = DefaultMaxRetries
	}
	now := time.Now()
	return r.backend.Put(ctx, &Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		Payload:    body,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		Backoff:    o.Backoff,
		RunAt:      now.Add(o.Delay),
		CreatedAt:  now,
	})
}

// Start launches the worker pool.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	log.Printf("tasks: %d workers started", r.workers)
}

// Stop halts the workers and waits for in-flight tasks to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Drain synchronously processes tasks until the backend is empty. Test and
// shutdown helper.
func (r *Runner) Drain(ctx context.Context) error {
	for {
		task, err := r.backend.Claim(ctx, time.Now().Add(r.backoffBase*100))
		if err != nil {
			return err
		}
		if task == nil {
			return nil
		}
		r.dispatch(ctx, task)
	}
}

func (r *Runner) worker(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			task, err := r.backend.Claim(ctx, time.Now())
			if err != nil {
				log.Printf("tasks: claim failed: %v", err)
				break
			}
			if task == nil {
				break
			}
			r.dispatch(ctx, task)
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, task *Task) {
	r.mu.RLock()
	h, ok := r.handlers[task.Type]
	r.mu.RUnlock()
	if !ok {
		log.Printf("tasks: no handler for type %s, dropping %s", task.Type, task.ID)
		return
	}

	if err := h(ctx, task); err != nil {
		task.Attempts++
		if task.Attempts > task.MaxRetries {
			log.Printf("tasks: %s task %s failed permanently after %d attempts: %v",
				task.Type, task.ID, task.Attempts, err)
			return
		}
		// Quadratic backoff: 1x, 4x, 9x the base delay.
		base := task.Backoff
		if base <= 0 {
			base = r.backoffBase
		}
		delay := time.Duration(task.Attempts*task.Attempts) * base
		task.RunAt = time.Now().Add(delay)
		if perr := r.backend.Put(ctx, task); perr != nil {
			log.Printf("tasks: requeue of %s failed: %v", task.ID, perr)
		}
	}
}
