package raft

import (
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

// State is the node's Raft role (spec §3.2). Zero is deliberately not a
// valid role, matching the original's "state can be 0 if it does not
// matter for the message" convention for WAL-only records.
type State int

const (
	StateFollower State = iota + 1
	StateCandidate
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "follower"
	case StateCandidate:
		return "candidate"
	case StateLeader:
		return "leader"
	default:
		return "unknown"
	}
}

// Message is the broadcast payload of spec §6 ("Raft broadcast payload"):
// {term, vote, state, leader_id, is_leader_seen, vclock?}. VClock is only
// populated when State is StateCandidate (spec §4.5's vote request).
type Message struct {
	Term         uint64
	Vote         types.PeerID
	State        State
	LeaderID     types.PeerID
	IsLeaderSeen bool
	VClock       vclock.VClock
}

// Transport is the engine's upcall set: broadcast to every peer, and
// append {term, vote} to the WAL. There is no separate schedule-async
// upcall; follow-up work runs on the engine's own goroutine. Write is
// fire-and-forget; its completion is reported back to the engine via
// WriteComplete.
type Transport interface {
	Broadcast(msg Message)
	Write(term uint64, vote types.PeerID)
}
