package swim

import (
	"math"
	"time"
)

// Config holds the tunables spec §4.1 and SPEC_FULL.md's Open Question #1
// fix concrete defaults for: indirect-probe fanout K, suspected→dead
// unacked-round threshold S, the dissemination TTD multiplier C, and the
// round/ack timing.
type Config struct {
	// ProbeInterval is the period between successive failure-detector
	// rounds.
	ProbeInterval time.Duration
	// AckTimeout bounds how long a direct ping waits for an ack before
	// falling back to indirect probing.
	AckTimeout time.Duration
	// IndirectFanout is K: the number of peers asked to indirectly probe
	// a member that missed its direct ack.
	IndirectFanout int
	// SuspectTimeoutRounds is S: consecutive unacked rounds while
	// Suspected before a member is marked Dead.
	SuspectTimeoutRounds int
	// TTDMultiplier is C: dissemination TTD rounds = ceil(log2(N)) * C.
	TTDMultiplier int
	// AntiEntropyInterval is the period between full-table anti-entropy
	// exchanges with a random peer.
	AntiEntropyInterval time.Duration
	// AntiEntropySampleSize bounds how many members are included in one
	// anti-entropy exchange.
	AntiEntropySampleSize int
	// MaxPacketSize is the UDP MTU budget handed to
	// swimwire.EncodeBudgeted.
	MaxPacketSize int
}

// DefaultConfig returns the defaults SPEC_FULL.md's Open Question #1
// fixes: K=3, S=3, C=3, D=ceil(log2(N)) dead→removed rounds.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:         1 * time.Second,
		AckTimeout:            200 * time.Millisecond,
		IndirectFanout:        3,
		SuspectTimeoutRounds:  3,
		TTDMultiplier:         3,
		AntiEntropyInterval:   5 * time.Second,
		AntiEntropySampleSize: 5,
		MaxPacketSize:         1500,
	}
}

// DeadRemovalRounds returns D = ceil(log2(N)) for a table of n members,
// the number of extra rounds a Dead member's tombstone rides along
// dissemination before being removed outright (spec §4.1).
func DeadRemovalRounds(n int) int {
	return ttdRounds(n, 1)
}

// ttdRounds computes ceil(log2(max(n,2))) * multiplier, the shared TTD
// formula behind both the dissemination bound (C) and dead-removal bound
// (D=ceil(log2 N)).
func ttdRounds(n, multiplier int) int {
	if n < 2 {
		n = 2
	}
	rounds := int(math.Ceil(math.Log2(float64(n))))
	if rounds < 1 {
		rounds = 1
	}
	return rounds * multiplier
}
