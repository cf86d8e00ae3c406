// Package outbox serializes all outbound transport calls. Every chat gets
// one worker goroutine serving two priority classes: HIGH operations
// (final sends, edits, deletes, command-menu updates) always dispatch
// before LOW ones (streamed progress edits), LOW edits for the same
// message coalesce so only the newest text reaches the wire, and a
// per-chat rate limiter keeps the bridge under the transport's flood
// limits.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RetryAfterError is the transport's rate-limit signal (HTTP 429 with
// parameters.retry_after).
type RetryAfterError struct {
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.After)
}

// Limits configures the per-chat dispatch rate. Telegram allows roughly one
// message per second per private chat and twenty per minute per group.
type Limits struct {
	Private rate.Limit
	Group   rate.Limit
}

// DefaultLimits matches Telegram's documented flood limits.
func DefaultLimits() Limits {
	return Limits{
		Private: rate.Every(time.Second),
		Group:   rate.Every(3 * time.Second), // 20/min
	}
}

type operation struct {
	fn   func(ctx context.Context) error
	done chan error // nil for LOW
}

type lowEdit struct {
	messageID int
	notBefore time.Time
	fn        func(ctx context.Context) error
}

// Queue owns the per-chat workers. All methods are safe for concurrent use.
type Queue struct {
	limits Limits
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	chats map[int64]*chatQueue
}

// New returns a running queue. Close must be called to stop the workers.
func New(limits Limits) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		limits: limits,
		ctx:    ctx,
		cancel: cancel,
		chats:  make(map[int64]*chatQueue),
	}
}

// Close stops all workers. Pending LOW edits are dropped; blocked HIGH
// callers are released with an error.
func (q *Queue) Close() {
	q.cancel()
	q.wg.Wait()
}

// Send enqueues a HIGH operation and blocks until it has been dispatched
// (including the single retry-after pass) or ctx/queue shutdown.
func (q *Queue) Send(ctx context.Context, chatID int64, fn func(ctx context.Context) error) error {
	cq := q.chat(chatID)
	op := &operation{fn: fn, done: make(chan error, 1)}
	if err := cq.pushHigh(op); err != nil {
		return err
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return q.ctx.Err()
	}
}

// EditLow enqueues a streamed progress edit for (chatID, messageID). It
// returns immediately; a pending edit for the same message is replaced so
// only the newest text is dispatched. notBefore delays dispatch, batching
// bursts of engine events into one wire call.
func (q *Queue) EditLow(chatID int64, messageID int, notBefore time.Time, fn func(ctx context.Context) error) {
	q.chat(chatID).pushLow(&lowEdit{messageID: messageID, notBefore: notBefore, fn: fn})
}

// PurgeLow drops any pending LOW edit for (chatID, messageID). Callers
// enqueue a HIGH delete right after, so the worker can never edit a message
// that is about to disappear.
func (q *Queue) PurgeLow(chatID int64, messageID int) {
	q.chat(chatID).purgeLow(messageID)
}

func (q *Queue) chat(chatID int64) *chatQueue {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq := q.chats[chatID]
	if cq == nil {
		limit := q.limits.Private
		if chatID < 0 { // group and supergroup ids are negative
			limit = q.limits.Group
		}
		cq = &chatQueue{
			limiter: rate.NewLimiter(limit, 1),
			wake:    make(chan struct{}, 1),
		}
		q.chats[chatID] = cq
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			cq.run(q.ctx)
		}()
	}
	return cq
}

type chatQueue struct {
	limiter *rate.Limiter
	wake    chan struct{}

	mu     sync.Mutex
	closed bool
	high   []*operation
	low    []*lowEdit
}

func (c *chatQueue) pushHigh(op *operation) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("outbox: queue closed")
	}
	c.high = append(c.high, op)
	c.mu.Unlock()
	c.kick()
	return nil
}

func (c *chatQueue) pushLow(edit *lowEdit) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	replaced := false
	for i, pending := range c.low {
		if pending.messageID == edit.messageID {
			// Keep the original slot's place in line and its earlier
			// deadline, carrying only the newest text: a stream of
			// replacements must not push the edit out forever.
			if pending.notBefore.Before(edit.notBefore) {
				edit.notBefore = pending.notBefore
			}
			c.low[i] = edit
			replaced = true
			break
		}
	}
	if !replaced {
		c.low = append(c.low, edit)
	}
	c.mu.Unlock()
	c.kick()
}

func (c *chatQueue) purgeLow(messageID int) {
	c.mu.Lock()
	kept := c.low[:0]
	for _, pending := range c.low {
		if pending.messageID != messageID {
			kept = append(kept, pending)
		}
	}
	c.low = kept
	c.mu.Unlock()
}

func (c *chatQueue) kick() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// next pops the highest-priority ready operation. When nothing is ready it
// returns the wait until the earliest LOW deadline (or zero when the queue
// is empty).
func (c *chatQueue) next(now time.Time) (*operation, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.high) > 0 {
		op := c.high[0]
		c.high = c.high[1:]
		return op, 0
	}

	var wait time.Duration
	for i, pending := range c.low {
		if !pending.notBefore.After(now) {
			c.low = append(c.low[:i], c.low[i+1:]...)
			return &operation{fn: pending.fn}, 0
		}
		if d := pending.notBefore.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}
	return nil, wait
}

func (c *chatQueue) run(ctx context.Context) {
	for {
		op, wait := c.next(time.Now())
		if op == nil {
			var deadline <-chan time.Time
			var timer *time.Timer
			if wait > 0 {
				timer = time.NewTimer(wait)
				deadline = timer.C
			}
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				c.drain(ctx.Err())
				return
			case <-c.wake:
			case <-deadline:
			}
			if timer != nil {
				timer.Stop()
			}
			continue
		}

		err := dispatch(ctx, c.limiter, op.fn)
		if op.done != nil {
			op.done <- err
		} else if err != nil {
			log.Printf("[outbox] dropping failed edit: %v", err)
		}
	}
}

// drain marks the queue closed, releases blocked HIGH callers, and discards
// pending LOW edits.
func (c *chatQueue) drain(err error) {
	c.mu.Lock()
	c.closed = true
	high := c.high
	dropped := len(c.low)
	c.high, c.low = nil, nil
	c.mu.Unlock()

	for _, op := range high {
		if op.done != nil {
			op.done <- err
		}
	}
	if dropped > 0 {
		log.Printf("[outbox] shutdown dropped %d pending edits", dropped)
	}
}

// dispatch runs one operation behind the chat's rate limiter, honoring the
// transport's retry-after exactly once. A second consecutive rate limit is
// returned to the caller.
func dispatch(ctx context.Context, limiter *rate.Limiter, fn func(ctx context.Context) error) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return WithRetry(ctx, func() error { return fn(ctx) })
}

// WithRetry runs fn, sleeping and retrying exactly once when it reports a
// RetryAfterError. It is also used directly by the long-poll ingress, which
// bypasses the per-chat limiter.
func WithRetry(ctx context.Context, fn func() error) error {
	err := fn()
	var ra *RetryAfterError
	if !errors.As(err, &ra) {
		return err
	}
	log.Printf("[outbox] rate limited, sleeping %s", ra.After)
	select {
	case <-time.After(ra.After):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}
