package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(Limits{Private: rate.Inf, Group: rate.Inf})
	t.Cleanup(q.Close)
	return q
}

// callLog records dispatched operations in order.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := l.snapshot(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d calls, have %v", n, l.snapshot())
	return nil
}

func TestLowEditsCoalesce(t *testing.T) {
	q := testQueue(t)
	var log callLog

	notBefore := time.Now().Add(200 * time.Millisecond)
	for _, text := range []string{"first", "second", "third"} {
		text := text
		q.EditLow(1, 1, notBefore, func(ctx context.Context) error {
			log.add("edit:" + text)
			return nil
		})
	}

	calls := log.waitFor(t, 1)
	time.Sleep(100 * time.Millisecond) // no second dispatch may follow
	calls = log.snapshot()
	if len(calls) != 1 || calls[0] != "edit:third" {
		t.Errorf("calls = %v, want exactly [edit:third]", calls)
	}
}

func TestCoalescingKeepsEarliestDeadline(t *testing.T) {
	q := testQueue(t)
	var log callLog

	// A burst of replacements, each with a fresh deadline far in the
	// future, must still dispatch by the first edit's deadline.
	q.EditLow(1, 1, time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		log.add("edit:stale")
		return nil
	})
	for i := 0; i < 5; i++ {
		q.EditLow(1, 1, time.Now().Add(time.Hour), func(ctx context.Context) error {
			log.add("edit:newest")
			return nil
		})
	}

	calls := log.waitFor(t, 1)
	if calls[0] != "edit:newest" {
		t.Errorf("calls = %v, want the newest text at the oldest deadline", calls)
	}
}

func TestHighDispatchesBeforePendingLow(t *testing.T) {
	q := testQueue(t)
	var log callLog

	q.EditLow(1, 1, time.Now().Add(50*time.Millisecond), func(ctx context.Context) error {
		log.add("low")
		return nil
	})
	err := q.Send(context.Background(), 1, func(ctx context.Context) error {
		log.add("high")
		return nil
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	calls := log.waitFor(t, 2)
	if calls[0] != "high" || calls[1] != "low" {
		t.Errorf("calls = %v, want high before low", calls)
	}
}

func TestRetryAfterRetriesOnce(t *testing.T) {
	q := testQueue(t)
	var log callLog

	attempts := 0
	start := time.Now()
	err := q.Send(context.Background(), 1, func(ctx context.Context) error {
		attempts++
		log.add("send")
		if attempts == 1 {
			return &RetryAfterError{After: 50 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Send after retry: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("retried after %s, want >= retry_after", elapsed)
	}
}

func TestSecondRateLimitSurfaces(t *testing.T) {
	q := testQueue(t)

	err := q.Send(context.Background(), 1, func(ctx context.Context) error {
		return &RetryAfterError{After: time.Millisecond}
	})
	var ra *RetryAfterError
	if !errors.As(err, &ra) {
		t.Fatalf("err = %v, want RetryAfterError after second 429", err)
	}
}

func TestDeletePurgesPendingEdits(t *testing.T) {
	q := testQueue(t)
	var log callLog

	q.EditLow(1, 1, time.Now().Add(100*time.Millisecond), func(ctx context.Context) error {
		log.add("edit")
		return nil
	})
	q.PurgeLow(1, 1)
	err := q.Send(context.Background(), 1, func(ctx context.Context) error {
		log.add("delete")
		return nil
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	calls := log.snapshot()
	if len(calls) != 1 || calls[0] != "delete" {
		t.Errorf("calls = %v, want the delete and never the edit", calls)
	}
}

func TestPurgeKeepsOtherMessages(t *testing.T) {
	q := testQueue(t)
	var log callLog

	q.EditLow(1, 1, time.Now().Add(20*time.Millisecond), func(ctx context.Context) error {
		log.add("edit:1")
		return nil
	})
	q.EditLow(1, 2, time.Now().Add(20*time.Millisecond), func(ctx context.Context) error {
		log.add("edit:2")
		return nil
	})
	q.PurgeLow(1, 1)

	calls := log.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	calls = log.snapshot()
	if len(calls) != 1 || calls[0] != "edit:2" {
		t.Errorf("calls = %v, want only edit:2", calls)
	}
}

func TestCloseDropsPendingLow(t *testing.T) {
	q := New(Limits{Private: rate.Inf, Group: rate.Inf})
	var log callLog

	q.EditLow(1, 1, time.Now().Add(time.Hour), func(ctx context.Context) error {
		log.add("edit")
		return nil
	})
	q.Close()

	if calls := log.snapshot(); len(calls) != 0 {
		t.Errorf("calls after close = %v, want none", calls)
	}

	// Further HIGH sends fail fast instead of hanging.
	err := q.Send(context.Background(), 1, func(ctx context.Context) error { return nil })
	if err == nil {
		t.Error("Send on closed queue succeeded")
	}
}

func TestChatsDoNotBlockEachOther(t *testing.T) {
	q := testQueue(t)
	var log callLog

	release := make(chan struct{})
	go q.Send(context.Background(), 1, func(ctx context.Context) error {
		<-release
		log.add("slow")
		return nil
	})

	time.Sleep(10 * time.Millisecond)
	err := q.Send(context.Background(), 2, func(ctx context.Context) error {
		log.add("fast")
		return nil
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	close(release)

	calls := log.waitFor(t, 2)
	if calls[0] != "fast" {
		t.Errorf("calls = %v, want chat 2 undelayed by chat 1", calls)
	}
}
