package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds how many chats run a handler at once.
const DefaultConcurrency = 4

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatcher closed")

// Job is one unit of per-chat work.
type Job func(ctx context.Context)

// PanicFunc is told about a job that panicked. The chat queue continues.
type PanicFunc func(key string, recovered any)

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Limit  int `json:"limit"`
	Active int `json:"active"`
	Queued int `json:"queued"`
	Chats  int `json:"chats"`
}

// Dispatcher runs jobs in submission order per key, never two at once for the
// same key, and at most limit keys at a time overall. Each key with queued
// work gets one draining goroutine that exits once the queue is empty.
type Dispatcher struct {
	ctx     context.Context
	limit   int
	sem     *semaphore.Weighted
	log     *slog.Logger
	onPanic PanicFunc

	mu     sync.Mutex
	queues map[string][]Job
	active int
	closed bool
	wg     sync.WaitGroup
}

// New builds a dispatcher. Jobs receive ctx; it should outlive shutdown of
// the inbound side so queued work still completes during Close.
func New(ctx context.Context, concurrency int, log *slog.Logger) *Dispatcher {
	if ctx == nil {
		ctx = context.Background()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		ctx:    ctx,
		limit:  concurrency,
		sem:    semaphore.NewWeighted(int64(concurrency)),
		log:    log.With("component", "dispatch.dispatcher"),
		queues: make(map[string][]Job),
	}
}

// OnPanic registers a hook for recovered job panics.
func (d *Dispatcher) OnPanic(fn PanicFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onPanic = fn
}

// Submit queues job behind earlier work for key and returns immediately.
func (d *Dispatcher) Submit(key string, job Job) error {
	if job == nil {
		return errors.New("job is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	queue := d.queues[key]
	d.queues[key] = append(queue, job)
	if len(queue) == 0 {
		d.wg.Add(1)
		go d.drain(key)
	}

	return nil
}

// Close stops accepting jobs and waits for queued work to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		stats := d.Stats()
		return fmt.Errorf("dispatcher close with %d queued jobs: %w", stats.Queued, ctx.Err())
	}
}

// Stats reports running and queued work.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	queued := 0
	for _, queue := range d.queues {
		queued += len(queue)
	}

	return Stats{
		Limit:  d.limit,
		Active: d.active,
		Queued: queued - d.active,
		Chats:  len(d.queues),
	}
}

// drain runs the head of key's queue until it is empty. The head stays queued
// while it runs so a concurrent Submit does not start a second drainer.
func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := queue[0]
		d.mu.Unlock()

		// Acquire only fails on context cancellation; Background never cancels.
		_ = d.sem.Acquire(context.Background(), 1)
		d.setActive(1)

		d.run(key, job)

		d.setActive(-1)
		d.sem.Release(1)

		d.mu.Lock()
		d.queues[key][0] = nil
		d.queues[key] = d.queues[key][1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(key string, job Job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.log.Error("Job panicked", "key", key, "panic", recovered, "stack", string(debug.Stack()))

			d.mu.Lock()
			onPanic := d.onPanic
			d.mu.Unlock()
			if onPanic != nil {
				onPanic(key, recovered)
			}
		}
	}()

	job(d.ctx)
}

func (d *Dispatcher) setActive(delta int) {
	d.mu.Lock()
	d.active += delta
	d.mu.Unlock()
}
