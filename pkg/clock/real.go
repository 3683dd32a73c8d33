package clock

import "time"

// RealClock is the production Clock, backed directly by the time package.
type RealClock struct{}

// New returns the production clock.
func New() *RealClock { return &RealClock{} }

func (*RealClock) Now() time.Time { return time.Now() }

func (*RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (*RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time { return r.t.C }

func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

func (r *realTimer) Stop() bool { return r.t.Stop() }
