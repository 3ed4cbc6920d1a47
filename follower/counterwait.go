package follower

import (
	"context"
	"sync"
	"time"
)

// Outcome is the result of a CounterWait.Wait call.
type Outcome uint8

// Supported outcomes.
const (
	// OutcomeOK means the counter reached the requested threshold.
	OutcomeOK Outcome = iota
	// OutcomeTimeout means the timeout elapsed before the threshold was
	// reached.
	OutcomeTimeout
	// OutcomeCancelled means the caller's context was cancelled before the
	// threshold was reached.
	OutcomeCancelled
)

// CounterWait is a value-threshold rendezvous: external readers block until
// the follower has advanced its counter to at least a requested value.
//
// Update only ever moves the counter forward; Reset is the sole operation
// permitted to move it backward, and is used exclusively when a snapshot
// re-bases the counter's meaning (see SetBaseline).
type CounterWait struct {
	mu      sync.Mutex
	value   int64
	waiters map[*waiter]struct{}
}

type waiter struct {
	threshold int64
	done      chan struct{}
}

// NewCounterWait constructs a CounterWait with an initial value of 0.
func NewCounterWait() *CounterWait {
	return &CounterWait{
		waiters: make(map[*waiter]struct{}),
	}
}

// Value returns the current counter value.
func (c *CounterWait) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Update advances the counter to n if n is greater than the current value,
// waking every waiter whose threshold is now satisfied. It is a no-op if n
// is not greater than the current value.
func (c *CounterWait) Update(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= c.value {
		return
	}
	c.value = n
	c.wakeLocked()
}

// Reset unconditionally sets the counter to n, waking every waiter whose
// threshold is now satisfied; waiters with a higher threshold remain
// blocked. This is the only way the counter may move backward.
func (c *CounterWait) Reset(n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.value = n
	c.wakeLocked()
}

// SetBaseline is an alias for Reset, used where a full snapshot has re-based
// the event-id axis: by FollowerLoop.Tick when the freshly read lastImageId
// has moved past the in-memory hmsImageId (with that tick's
// maxNotificationId), and by the snapshot-taking path after it persists a
// snapshot itself (with the snapshot's image id). Kept as a distinct name so
// those call sites say why the counter may move backward.
func (c *CounterWait) SetBaseline(eventID int64) {
	c.Reset(eventID)
}

func (c *CounterWait) wakeLocked() {
	for w := range c.waiters {
		if w.threshold <= c.value {
			close(w.done)
			delete(c.waiters, w)
		}
	}
}

// Wait blocks until the counter reaches threshold, the timeout elapses, or
// ctx is cancelled. A non-positive timeout means "wait forever" (bounded
// only by ctx).
func (c *CounterWait) Wait(ctx context.Context, threshold int64, timeout time.Duration) Outcome {
	c.mu.Lock()
	if c.value >= threshold {
		c.mu.Unlock()
		return OutcomeOK
	}

	w := &waiter{threshold: threshold, done: make(chan struct{})}
	c.waiters[w] = struct{}{}
	c.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-w.done:
		return OutcomeOK
	case <-timeoutCh:
		c.removeWaiter(w)
		return OutcomeTimeout
	case <-ctx.Done():
		c.removeWaiter(w)
		return OutcomeCancelled
	}
}

func (c *CounterWait) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, w)
}
