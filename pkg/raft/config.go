package raft

import "time"

// Config holds the tunables of spec §4.5's "Configuration surface".
type Config struct {
	// IsEnabled is the master switch: a disabled node still persists
	// terms so it can rejoin quickly, but never votes or elects.
	IsEnabled bool
	// IsCandidate reports whether this node may become leader. Even if
	// false, the node still votes while Raft is enabled.
	IsCandidate bool
	// ElectionTimeout bounds how long a candidate-eligible follower
	// waits with no known leader before bumping the term.
	ElectionTimeout time.Duration
	// ElectionQuorum is the vote count required to become leader.
	ElectionQuorum int
	// DeathTimeout bounds how long a follower waits without hearing
	// from a known leader before considering it dead.
	DeathTimeout time.Duration
	// MaxShift is the randomization factor applied to ElectionTimeout,
	// in [0,1]: the actual timeout is ElectionTimeout + rand(0,
	// ElectionTimeout*MaxShift).
	MaxShift float64
	// ClusterSize is the number of voting members, used by split-vote
	// detection (spec §4.5).
	ClusterSize int
}

// DefaultConfig returns conservative defaults suitable for tests and the
// demo binary.
func DefaultConfig() Config {
	return Config{
		IsEnabled:       true,
		IsCandidate:     true,
		ElectionTimeout: 1 * time.Second,
		ElectionQuorum:  2,
		DeathTimeout:    2 * time.Second,
		MaxShift:        0.5,
		ClusterSize:     3,
	}
}
