package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefault_CreatedOnceUnderConcurrentFirstUse(t *testing.T) {
	const callers = 64

	var wg sync.WaitGroup
	got := make([]*Pool, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got[i] = Default()
		}(i)
	}
	close(start)
	wg.Wait()

	for i, p := range got {
		if p == nil {
			t.Fatalf("caller %d got nil pool", i)
		}
		if p != got[0] {
			t.Fatalf("caller %d got a different pool", i)
		}
	}
	if again := Default(); again != got[0] {
		t.Fatalf("later Default() returned a different pool")
	}
	if w := got[0].Workers(); w != runtime.NumCPU() {
		t.Fatalf("workers=%d, want %d", w, runtime.NumCPU())
	}
}

func TestSubmit_RunsTaskAndReportsResult(t *testing.T) {
	p := New(2, testLogger())
	t.Cleanup(p.Close)

	wantErr := errors.New("boom")
	task := p.Submit("ok", func(ctx context.Context) error { return wantErr })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); !errors.Is(err, wantErr) {
		t.Fatalf("Wait err=%v, want %v", err, wantErr)
	}
	if !errors.Is(task.Err(), wantErr) {
		t.Fatalf("Err()=%v, want %v", task.Err(), wantErr)
	}
}

func TestSubmit_ManySuspendedTasksOnFewWorkers(t *testing.T) {
	p := New(1, testLogger())
	t.Cleanup(p.Close)

	const n = 100
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(n)
	tasks := make([]*Task, n)
	for i := 0; i < n; i++ {
		tasks[i] = p.Submit("parked", func(ctx context.Context) error {
			started.Done()
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
	}

	waitDone := make(chan struct{})
	go func() {
		started.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("only part of %d tasks started on a single worker", n)
	}
	if got := p.Stats().Running; got != n {
		t.Fatalf("running=%d, want %d", got, n)
	}

	close(release)
	for i, task := range tasks {
		select {
		case <-task.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d did not finish", i)
		}
	}
}

func TestSubmit_PanicIsIsolated(t *testing.T) {
	p := New(1, testLogger())
	t.Cleanup(p.Close)

	bad := p.Submit("bad", func(ctx context.Context) error {
		panic("kaboom")
	})
	<-bad.Done()

	var perr *PanicError
	if !errors.As(bad.Err(), &perr) {
		t.Fatalf("err=%v, want *PanicError", bad.Err())
	}
	if perr.Value != "kaboom" || perr.Task != "bad" {
		t.Fatalf("unexpected panic error: %+v", perr)
	}

	// The pool must keep its capacity after a panic.
	for i := 0; i < 10; i++ {
		ok := p.Submit("after", func(ctx context.Context) error { return nil })
		select {
		case <-ok.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("task %d after panic did not run", i)
		}
		if ok.Err() != nil {
			t.Fatalf("err=%v, want nil", ok.Err())
		}
	}

	st := p.Stats()
	if st.Workers != 1 {
		t.Fatalf("workers=%d, want 1", st.Workers)
	}
	if st.Panicked != 1 {
		t.Fatalf("panicked=%d, want 1", st.Panicked)
	}
}

func TestTask_CancelStopsWork(t *testing.T) {
	p := New(1, testLogger())
	t.Cleanup(p.Close)

	task := p.Submit("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	task.Cancel()
	task.Cancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not stop after Cancel")
	}
	if !errors.Is(task.Err(), context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", task.Err())
	}
}

func TestClose_RejectsNewWork(t *testing.T) {
	p := New(2, testLogger())

	running := p.Submit("running", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	p.Close()
	p.Close()

	select {
	case <-running.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("running task was not cancelled by Close")
	}

	late := p.Submit("late", func(ctx context.Context) error { return nil })
	<-late.Done()
	if !errors.Is(late.Err(), ErrPoolClosed) {
		t.Fatalf("err=%v, want %v", late.Err(), ErrPoolClosed)
	}
}
