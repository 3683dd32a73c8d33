// Package raft implements the leader-election state machine described in
// spec §3.2 and §4.5: persisted vs. volatile term/vote, a randomized
// election timer, pre-vote gating on a leader-witness bitmap, split-vote
// detection, and the async WAL-write coupling that keeps the node a
// follower until its own vote is durable.
//
// Unlike textbook Raft, log entries are never compared by index: this
// node's "log length" is a vclock (pkg/vclock), borrowed from the
// replication layer, so a candidate is only electable if its vclock
// dominates every voter's vclock component-wise (spec §4.5's "vclock-based
// tie-break"). That sidesteps the usual need to compare per-entry terms,
// at the cost of the node needing a live, externally-owned vclock.
//
// One Engine owns one state machine and drives it from a single
// goroutine, the same translation pkg/swim makes of the source's
// cooperative single-thread model (see pkg/swim's package doc).
package raft
