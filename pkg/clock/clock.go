// Package clock abstracts monotonic time and timer scheduling behind one
// interface, so the SWIM and Raft engines can be driven either by a real
// wall clock or by a deterministic virtual clock in tests, without the
// engines knowing which one they got.
//
// This plays the role the original C implementation gives to its dual
// libev / fake-ev loop (original_source/src/lib/fakesys/fakeev.h): tests
// advance time explicitly and synchronously instead of sleeping.
package clock

import "time"

// Clock creates timers and reports the current time. *RealClock and
// *VirtualClock both implement it.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
	After(d time.Duration) <-chan time.Time
}

// Timer is a single scheduled callback. Reset and Stop follow the same
// semantics as time.Timer: Stop returns false if the timer already fired
// or was stopped; Reset re-arms it relative to "now".
type Timer interface {
	C() <-chan time.Time
	Reset(d time.Duration) bool
	Stop() bool
}
