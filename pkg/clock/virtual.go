package clock

import (
	"sync"
	"time"
)

// VirtualClock is a deterministic clock for tests: time only moves when
// Advance is called, and timers fire synchronously in deadline order as
// the virtual "now" crosses their deadline. This lets tests reproduce the
// concrete seed scenarios in spec §8 (suspicion timeouts, split-vote
// timer shrink, pre-vote gating) without sleeping in wall-clock time.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*virtualTimer
	seq     uint64
}

// NewVirtual creates a virtual clock starting at the given time. Tests that
// don't care about the absolute epoch can pass any fixed time.Time.
func NewVirtual(start time.Time) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C()
}

func (c *VirtualClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &virtualTimer{
		clock:    c,
		deadline: c.now.Add(d),
		ch:       make(chan time.Time, 1),
		seq:      c.seq,
		active:   true,
	}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the virtual clock forward by d, firing every pending timer
// whose deadline has been crossed, in deadline order. It is safe to call
// concurrently with engines reading the clock.
func (c *VirtualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var fired []*virtualTimer
	remaining := c.pending[:0]
	for _, t := range c.pending {
		if t.active && !t.deadline.After(now) {
			fired = append(fired, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	c.pending = remaining
	c.mu.Unlock()

	sortTimers(fired)
	for _, t := range fired {
		t.fire(now)
	}
}

func sortTimers(ts []*virtualTimer) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j-1].deadline.After(ts[j].deadline); j-- {
			ts[j-1], ts[j] = ts[j], ts[j-1]
		}
	}
}

func (c *VirtualClock) remove(t *virtualTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, p := range c.pending {
		if p == t {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

type virtualTimer struct {
	clock    *VirtualClock
	deadline time.Time
	ch       chan time.Time
	seq      uint64
	active   bool
}

func (t *virtualTimer) C() <-chan time.Time { return t.ch }

func (t *virtualTimer) fire(at time.Time) {
	t.active = false
	select {
	case t.ch <- at:
	default:
	}
}

func (t *virtualTimer) Stop() bool {
	return t.clock.remove(t)
}

func (t *virtualTimer) Reset(d time.Duration) bool {
	existed := t.clock.remove(t)
	t.clock.mu.Lock()
	t.deadline = t.clock.now.Add(d)
	t.active = true
	t.clock.seq++
	t.seq = t.clock.seq
	t.clock.pending = append(t.clock.pending, t)
	t.clock.mu.Unlock()
	return existed
}
