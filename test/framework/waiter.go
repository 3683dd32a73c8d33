// Package framework holds small test-only helpers shared by the
// integration suite under test/integration, the way cuemby-warren's own
// test/framework holds cluster/process helpers for its e2e suite. dbcore
// has no external processes to spawn or VMs to provision, so this stays
// to the one thing both suites actually need: polling a condition with a
// timeout instead of sleeping a fixed duration and hoping.
package framework

import (
	"context"
	"fmt"
	"time"
)

// Waiter polls a condition on a fixed interval until it's true or a
// timeout elapses.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter tuned for dbcore's in-process engines:
// convergence and elections here happen in milliseconds, not the seconds
// a real cluster's e2e suite waits on.
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 20*time.Millisecond)
}

// WaitFor blocks until condition returns true, ctx is done, or the
// waiter's timeout elapses, whichever comes first.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if condition() {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
