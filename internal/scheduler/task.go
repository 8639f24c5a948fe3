package scheduler

import (
	"context"
	"sync"
)

// Task is the handle for a submitted unit of work.
type Task struct {
	name string
	fn   func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc

	once sync.Once
	done chan struct{}
	err  error
}

func (t *Task) Name() string { return t.name }

// Cancel asks the task to stop. It is safe to call from any goroutine, any
// number of times.
func (t *Task) Cancel() { t.cancel() }

// Done is closed once the task function has returned (or panicked).
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		t.err = err
		t.cancel()
		close(t.done)
	})
}
