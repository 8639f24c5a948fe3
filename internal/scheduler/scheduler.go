// Package scheduler runs long-lived units of concurrent work (relay loops)
// on a fixed pool of workers shared by every session in the process.
//
// Each worker is a goroutine that admits tasks from one shared submission
// queue. An admitted task runs on its own goroutine and parks at its channel
// waits, so a single worker hosts any number of suspended tasks; the Go
// runtime does the cooperative scheduling. A task that panics is recovered
// and reported through its handle. The worker that admitted it keeps running.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("scheduler pool closed")

var (
	defaultOnce sync.Once
	defaultPool *Pool
)

// Default returns the process-wide pool, creating it on first use with one
// worker per available CPU.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultPool = New(runtime.NumCPU(), nil)
	})
	return defaultPool
}

// PanicError is the result of a task whose function panicked.
type PanicError struct {
	Task  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %q panicked: %v", e.Task, e.Value)
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	Workers   int
	Running   int64
	Completed uint64
	Panicked  uint64
}

type Pool struct {
	log     *slog.Logger
	workers int

	submit chan *Task
	quit   chan struct{}

	mu     sync.Mutex
	closed bool
	tasks  map[*Task]struct{}

	running   atomic.Int64
	completed atomic.Uint64
	panicked  atomic.Uint64

	wg sync.WaitGroup
}

// New starts a pool with the given number of workers. workers <= 0 means one
// per CPU.
func New(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		log:     logger.With("component", "scheduler"),
		workers: workers,
		submit:  make(chan *Task),
		quit:    make(chan struct{}),
		tasks:   make(map[*Task]struct{}),
	}
	for i := 1; i <= workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *Pool) Workers() int { return p.workers }

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Submit hands fn to the pool. The returned task is already queued; fn
// receives a context that is cancelled by Task.Cancel or Pool.Close.
//
// Submitting to a closed pool returns a task that is already done with
// ErrPoolClosed.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) *Task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		name:   name,
		fn:     fn,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.finish(ErrPoolClosed)
		return t
	}
	p.tasks[t] = struct{}{}
	p.mu.Unlock()

	select {
	case p.submit <- t:
	case <-p.quit:
		p.forget(t)
		t.finish(ErrPoolClosed)
	}
	return t
}

func (p *Pool) worker(n int) {
	defer p.wg.Done()
	log := p.log.With("worker", n)
	for {
		select {
		case <-p.quit:
			return
		case t := <-p.submit:
			p.running.Add(1)
			go p.run(log, t)
		}
	}
}

func (p *Pool) run(log *slog.Logger, t *Task) {
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			p.panicked.Add(1)
			perr := &PanicError{Task: t.name, Value: rec, Stack: debug.Stack()}
			log.Error("task panicked", "task", t.name, "recover", rec, "stack", string(perr.Stack))
			err = perr
		}
		p.running.Add(-1)
		p.completed.Add(1)
		p.forget(t)
		t.finish(err)
	}()
	err = t.fn(t.ctx)
}

func (p *Pool) forget(t *Task) {
	p.mu.Lock()
	delete(p.tasks, t)
	p.mu.Unlock()
}

// Close stops admitting work and cancels every task still running. It does
// not wait for tasks to return. The default pool is never closed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	running := make([]*Task, 0, len(p.tasks))
	for t := range p.tasks {
		running = append(running, t)
	}
	p.mu.Unlock()

	close(p.quit)
	for _, t := range running {
		t.Cancel()
	}
	p.wg.Wait()
}
