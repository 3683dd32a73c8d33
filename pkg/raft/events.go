package raft

import "github.com/tarantool/dbcore/pkg/events"

// Event types published onto the shared events.Broker whenever any
// externally visible attribute changes (spec §4.5's on_update trigger).
const (
	EventUpdate         events.Type = "raft.update"
	EventElectionResult events.Type = "raft.election_result"
	EventSplitVote      events.Type = "raft.split_vote"
)
