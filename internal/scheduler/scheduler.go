// Package scheduler orders runs per conversation thread. Each ThreadKey
// gets a FIFO of jobs and at most one worker goroutine, so two prompts in
// one thread can never race; independent threads run in parallel.
package scheduler

import (
	"context"
	"log"
	"sync"

	"github.com/takopi/takopi/internal/event"
)

// ThreadKey identifies one conversation thread's session lineage,
// "engine:value".
type ThreadKey string

// KeyFor derives the ThreadKey of a resume token.
func KeyFor(token event.ResumeToken) ThreadKey {
	return ThreadKey(string(token.Engine) + ":" + token.Value)
}

// Job is one unit of thread work. ctx is cancelled on scheduler shutdown;
// jobs still waiting in the FIFO observe ctx.Err() and report cancelled.
type Job func(ctx context.Context)

type thread struct {
	fifo    []Job
	running bool
	// gate, when non-nil, must close before the next job starts. It covers
	// the window between a fresh session's session.started and its first
	// completion, so a fast follow-up message resumes instead of forking.
	gate <-chan struct{}
}

// Scheduler owns the per-key workers. Safe for concurrent use.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	threads map[ThreadKey]*thread
	closed  bool
}

// New returns a running scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		threads: make(map[ThreadKey]*thread),
	}
}

// Enqueue appends a job to the key's FIFO, spawning the key's worker if
// none is running. Jobs enqueued after Shutdown are dropped.
func (s *Scheduler) Enqueue(key ThreadKey, job Job) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.Printf("[scheduler] dropping job for %s: shutting down", key)
		return
	}
	t := s.threads[key]
	if t == nil {
		t = &thread{}
		s.threads[key] = t
	}
	t.fifo = append(t.fifo, job)
	spawn := !t.running
	if spawn {
		t.running = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if spawn {
		go s.work(key, t)
	}
}

// EnqueueResume is Enqueue on the token's ThreadKey.
func (s *Scheduler) EnqueueResume(token event.ResumeToken, job Job) {
	s.Enqueue(KeyFor(token), job)
}

// NoteThreadKnown installs a gate on the token's key: jobs enqueued from now
// on wait until done closes before starting. The caller closes done when the
// first run of the session completes.
func (s *Scheduler) NoteThreadKnown(token event.ResumeToken, done <-chan struct{}) {
	key := KeyFor(token)
	s.mu.Lock()
	t := s.threads[key]
	if t == nil {
		t = &thread{}
		s.threads[key] = t
	}
	t.gate = done
	s.mu.Unlock()
}

func (s *Scheduler) work(key ThreadKey, t *thread) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(t.fifo) == 0 {
			t.running = false
			// Keep the entry only while a gate is installed.
			if t.gate == nil {
				delete(s.threads, key)
			}
			s.mu.Unlock()
			return
		}
		job := t.fifo[0]
		t.fifo = t.fifo[1:]
		gate := t.gate
		s.mu.Unlock()

		if gate != nil {
			select {
			case <-gate:
				s.mu.Lock()
				if t.gate == gate {
					t.gate = nil
				}
				s.mu.Unlock()
			case <-s.ctx.Done():
			}
		}
		job(s.ctx)
	}
}

// Shutdown stops accepting jobs, cancels the job context, and waits for the
// workers to drain. Running engine processes finish through their own
// lifecycle; queued jobs observe the cancelled context.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
