// Package workqueue runs asynchronous work under a concurrency ceiling and a
// rolling-window start rate.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidQueueConfig is returned by New when a limit is zero or negative
var ErrInvalidQueueConfig = errors.New("invalid queue configuration")

// Config bounds a queue.
// At most MaxConcurrent items run at once and at most MaxPerWindow items
// start within any Window-long interval.
type Config struct {
	Name          string
	MaxConcurrent int
	MaxPerWindow  int
	Window        time.Duration
}

// Clock abstracts time for tests
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WorkItem is a labelled unit of work
type WorkItem struct {
	Label string
	Run   func(ctx context.Context) error
}

// Future resolves once its item finished or was never admitted
type Future struct {
	label string
	done  chan struct{}
	err   error
}

func newFuture(label string) *Future {
	return &Future{label: label, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.err = err
	close(f.done)
}

// Label returns the label of the submitted item
func (f *Future) Label() string { return f.label }

// Done is closed when the item's result is available
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the item's result. Only meaningful after Done is closed.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the item finished, or ctx is done
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AdmitHook is called as an item starts, with the in-flight count including it
type AdmitHook func(label string, at time.Time, inFlight int)

// CompleteHook is called as an item finishes
type CompleteHook func(label string, took time.Duration, err error)

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithAdmitHook registers a hook run on every admission
func WithAdmitHook(h AdmitHook) Option {
	return func(q *Queue) { q.onAdmit = append(q.onAdmit, h) }
}

// WithCompleteHook registers a hook run on every completion
func WithCompleteHook(h CompleteHook) Option {
	return func(q *Queue) { q.onComplete = append(q.onComplete, h) }
}

type job struct {
	ctx    context.Context
	item   WorkItem
	future *Future
}

// Queue admits work in submission order. Each queue owns its own state, so
// independent queues never interfere.
type Queue struct {
	cfg   Config
	clock Clock
	slots *semaphore.Weighted

	onAdmit    []AdmitHook
	onComplete []CompleteHook

	mu          sync.Mutex
	pending     []*job
	dispatching bool
	inFlight    int

	// start times of the last MaxPerWindow admissions, oldest at next once full
	starts []time.Time
	next   int
}

// New creates a queue, failing fast on a limit that could never admit anything
func New(cfg Config, opts ...Option) (*Queue, error) {
	if cfg.MaxConcurrent <= 0 || cfg.MaxPerWindow <= 0 || cfg.Window <= 0 {
		return nil, fmt.Errorf("%w: %q needs positive limits (max_concurrent=%d, max_per_window=%d, window=%s)",
			ErrInvalidQueueConfig, cfg.Name, cfg.MaxConcurrent, cfg.MaxPerWindow, cfg.Window)
	}

	q := &Queue{
		cfg:    cfg,
		clock:  realClock{},
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		starts: make([]time.Time, 0, cfg.MaxPerWindow),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Name returns the configured queue name
func (q *Queue) Name() string { return q.cfg.Name }

// InFlight returns the number of items currently running
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Submit enqueues item. ctx is handed to the item when it runs; if ctx ends
// before admission the item never runs and its future resolves with ctx.Err().
func (q *Queue) Submit(ctx context.Context, item WorkItem) *Future {
	f := newFuture(item.Label)
	if item.Run == nil {
		f.resolve(fmt.Errorf("work item %q has no function", item.Label))
		return f
	}

	q.mu.Lock()
	q.pending = append(q.pending, &job{ctx: ctx, item: item, future: f})
	if !q.dispatching {
		q.dispatching = true
		go q.dispatch()
	}
	q.mu.Unlock()
	return f
}

// RunAll submits items in order and waits for all of them. The returned
// slice holds each item's error at the item's index.
func (q *Queue) RunAll(ctx context.Context, items []WorkItem) []error {
	futures := make([]*Future, len(items))
	for i, item := range items {
		futures[i] = q.Submit(ctx, item)
	}
	errs := make([]error, len(items))
	for i, f := range futures {
		<-f.Done()
		errs[i] = f.Err()
	}
	return errs
}

// dispatch admits pending jobs one at a time until none are left
func (q *Queue) dispatch() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.dispatching = false
			q.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.future.resolve(err)
			continue
		}
		if err := q.slots.Acquire(j.ctx, 1); err != nil {
			j.future.resolve(err)
			continue
		}
		at, err := q.waitForWindow(j.ctx)
		if err != nil {
			q.slots.Release(1)
			j.future.resolve(err)
			continue
		}
		q.start(j, at)
	}
}

// waitForWindow blocks until starting now keeps the rolling window within
// MaxPerWindow, then records the start
func (q *Queue) waitForWindow(ctx context.Context) (time.Time, error) {
	for {
		now := q.clock.Now()
		if len(q.starts) < q.cfg.MaxPerWindow {
			q.starts = append(q.starts, now)
			return now, nil
		}

		oldest := q.starts[q.next]
		wait := oldest.Add(q.cfg.Window).Sub(now)
		if wait <= 0 {
			q.starts[q.next] = now
			q.next = (q.next + 1) % q.cfg.MaxPerWindow
			return now, nil
		}

		select {
		case <-ctx.Done():
			return time.Time{}, ctx.Err()
		case <-q.clock.After(wait):
		}
	}
}

func (q *Queue) start(j *job, at time.Time) {
	q.mu.Lock()
	q.inFlight++
	inFlight := q.inFlight
	q.mu.Unlock()

	for _, h := range q.onAdmit {
		h(j.item.Label, at, inFlight)
	}

	go func() {
		err := q.run(j)
		took := q.clock.Now().Sub(at)

		q.mu.Lock()
		q.inFlight--
		q.mu.Unlock()
		q.slots.Release(1)

		for _, h := range q.onComplete {
			h(j.item.Label, took, err)
		}
		j.future.resolve(err)
	}()
}

func (q *Queue) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work item %q panicked: %v", j.item.Label, r)
		}
	}()
	return j.item.Run(j.ctx)
}
