package swim

import "github.com/tarantool/dbcore/pkg/events"

// Event types published onto the shared events.Broker (spec §4.1's
// SWIM_EV_* trigger bitmask, translated into the Broker's string
// namespace described in SPEC_FULL.md §4.1a).
const (
	EventMemberJoined    events.Type = "swim.member_joined"
	EventMemberSuspected events.Type = "swim.member_suspected"
	EventMemberDead      events.Type = "swim.member_dead"
	EventMemberRemoved   events.Type = "swim.member_removed"
	EventMemberRefuted   events.Type = "swim.member_refuted"
	EventMemberLeft      events.Type = "swim.member_left"
)
