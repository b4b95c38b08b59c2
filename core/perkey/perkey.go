// Package perkey runs functions one at a time per key while functions for
// different keys run concurrently.
//
// The command processor uses it to execute commands addressed to the same
// aggregate in submission order, so they do not race each other into
// concurrency conflicts.
package perkey

import (
	"context"
	"errors"
	"sync"
)

var ErrSchedulerClosed = errors.New("scheduler is closed")

const defaultBufferSize = 64

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets how many tasks may wait per key before callers block
// (default 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler executes tasks sequentially per key in submission order. A key
// holds a goroutine only while it has tasks.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	inflight   sync.WaitGroup
	bufferSize int
}

type worker struct {
	tasks chan *task
	// pending counts tasks registered for this worker and not yet finished
	pending int
}

type task struct {
	fn   func() error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := config{bufferSize: defaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn for key and returns its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is Do but stops waiting when ctx is done. A task that was
// already queued still runs; its result is dropped.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.inflight.Add(1)
	w := s.workerLocked(key)
	w.pending++
	s.mu.Unlock()
	defer s.inflight.Done()

	t := &task{fn: fn, done: make(chan error, 1)}
	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.withdraw(key, w)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys with queued or running tasks.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close rejects new tasks. Queued tasks still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// no sends may happen on a closed channel
	s.inflight.Wait()

	s.mu.Lock()
	for key, w := range s.workers {
		close(w.tasks)
		delete(s.workers, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler[K]) workerLocked(key K) *worker {
	if w, ok := s.workers[key]; ok {
		return w
	}
	w := &worker{tasks: make(chan *task, s.bufferSize)}
	s.workers[key] = w
	go s.run(key, w)
	return w
}

func (s *Scheduler[K]) run(key K, w *worker) {
	for t := range w.tasks {
		t.done <- t.fn()

		s.mu.Lock()
		w.pending--
		if w.pending == 0 {
			s.retireLocked(key, w)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// withdraw unregisters a task that was never queued.
func (s *Scheduler[K]) withdraw(key K, w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.pending--
	if w.pending == 0 && s.retireLocked(key, w) {
		close(w.tasks)
	}
}

func (s *Scheduler[K]) retireLocked(key K, w *worker) bool {
	if s.workers[key] != w {
		return false
	}
	delete(s.workers, key)
	return true
}
