package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/takopi/takopi/internal/event"
)

func TestFIFOWithinKey(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		s.Enqueue("codex:one", func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			last := len(order) == 5
			mu.Unlock()
			if last {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not drain")
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("order = %v, want FIFO", order)
		}
	}
}

func TestOneWorkerPerKey(t *testing.T) {
	s := New()
	defer s.Shutdown()

	var inFlight, maxSeen atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		s.Enqueue("claude:busy", func(ctx context.Context) {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				cur := maxSeen.Load()
				if n <= cur || maxSeen.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		})
	}
	wg.Wait()

	if got := maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent jobs on one key = %d, want 1", got)
	}
}

func TestKeysRunInParallel(t *testing.T) {
	s := New()
	defer s.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	s.Enqueue("codex:a", func(ctx context.Context) {
		close(started)
		<-block
	})
	<-started

	ran := make(chan struct{})
	s.Enqueue("codex:b", func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("independent key blocked behind busy key")
	}
	close(block)
}

func TestGateDelaysFollowUps(t *testing.T) {
	s := New()
	defer s.Shutdown()

	token := event.ResumeToken{Engine: "codex", Value: "fresh"}
	gate := make(chan struct{})
	s.NoteThreadKnown(token, gate)

	ran := make(chan struct{})
	s.EnqueueResume(token, func(ctx context.Context) { close(ran) })

	select {
	case <-ran:
		t.Fatal("gated job ran before the gate closed")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run after gate closed")
	}

	// The gate is one-shot: the next job starts immediately.
	again := make(chan struct{})
	s.EnqueueResume(token, func(ctx context.Context) { close(again) })
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("gate was not cleared after first pass")
	}
}

func TestShutdownCancelsPending(t *testing.T) {
	s := New()

	block := make(chan struct{})
	running := make(chan struct{})
	s.Enqueue("pi:x", func(ctx context.Context) {
		close(running)
		<-block
	})
	<-running

	var pendingErr error
	pendingDone := make(chan struct{})
	s.Enqueue("pi:x", func(ctx context.Context) {
		pendingErr = ctx.Err()
		close(pendingDone)
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	s.Shutdown()

	<-pendingDone
	if pendingErr != context.Canceled {
		t.Errorf("pending job ctx err = %v, want context.Canceled", pendingErr)
	}

	// Enqueue after shutdown is a no-op, not a panic or a hang.
	s.Enqueue("pi:x", func(ctx context.Context) { t.Error("job ran after shutdown") })
	time.Sleep(20 * time.Millisecond)
}
