package relay

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func TestMessageQueue_FIFO(t *testing.T) {
	q := newMessageQueue()
	for i := 0; i < 5; i++ {
		if !q.Push(Message{Payload: []byte{byte(i)}}) {
			t.Fatalf("push %d rejected", i)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		m, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if m.Payload[0] != byte(i) {
			t.Fatalf("pop %d got %d", i, m.Payload[0])
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len=%d, want 0", q.Len())
	}
}

func TestMessageQueue_PushAfterCloseRejected(t *testing.T) {
	q := newMessageQueue()
	q.Push(Message{Payload: []byte("queued")})
	q.Close()
	q.Close()

	if q.Push(Message{}) {
		t.Fatalf("push after close accepted")
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrNotActive) {
		t.Fatalf("pop err=%v, want %v", err, ErrNotActive)
	}
	if _, ok := q.TryPop(); ok {
		t.Fatalf("TryPop returned an item after close")
	}
}

func TestMessageQueue_PopHonoursContext(t *testing.T) {
	q := newMessageQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want %v", err, context.DeadlineExceeded)
	}
}

func TestMessageQueue_ManyConsumersSeeEveryItemOnce(t *testing.T) {
	q := newMessageQueue()
	const (
		producers = 4
		perProd   = 250
		consumers = 4
		total     = producers * perProd
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[uint16]int)
		wg   sync.WaitGroup
	)
	got := make(chan struct{}, total)
	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[m.Addr.Port()]++
				mu.Unlock()
				got <- struct{}{}
			}
		}()
	}

	for p := 0; p < producers; p++ {
		go func(p int) {
			for i := 0; i < perProd; i++ {
				port := uint16(p*perProd + i)
				q.Push(Message{Addr: netip.AddrPortFrom(netip.IPv4Unspecified(), port)})
			}
		}(p)
	}

	for i := 0; i < total; i++ {
		select {
		case <-got:
		case <-ctx.Done():
			t.Fatalf("received %d/%d items", i, total)
		}
	}
	q.Close()
	wg.Wait()

	if len(seen) != total {
		t.Fatalf("distinct items=%d, want %d", len(seen), total)
	}
	for port, n := range seen {
		if n != 1 {
			t.Fatalf("item %d delivered %d times", port, n)
		}
	}
}
