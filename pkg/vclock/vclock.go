// Package vclock implements the component-wise vector clock shared by the
// Raft pre-vote tie-break (spec §4.5) and the limbo queue's ACK
// aggregation (spec §4.6). It is borrowed, never owned, by both: callers
// keep the backing VClock alive and mutate it directly; this package only
// compares and copies.
package vclock

import "github.com/tarantool/dbcore/pkg/types"

// VClock maps a peer id to the highest LSN known to have been produced by
// that peer. A nil/zero value for a peer means "nothing known yet", which
// compares as less than any recorded LSN.
type VClock map[types.PeerID]int64

// New returns an empty vector clock.
func New() VClock { return make(VClock) }

// Get returns the component for id, or 0 if unset.
func (v VClock) Get(id types.PeerID) int64 { return v[id] }

// Follow bumps the component for id up to lsn if lsn is larger than what's
// already recorded. It never moves a component backwards.
func (v VClock) Follow(id types.PeerID, lsn int64) {
	if lsn > v[id] {
		v[id] = lsn
	}
}

// Clone returns an independent copy.
func (v VClock) Clone() VClock {
	out := make(VClock, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Compare returns Order describing how l relates to r component-wise.
func Compare(l, r VClock) Order {
	ids := make(map[types.PeerID]struct{}, len(l)+len(r))
	for id := range l {
		ids[id] = struct{}{}
	}
	for id := range r {
		ids[id] = struct{}{}
	}
	lessSeen, greaterSeen := false, false
	for id := range ids {
		lv, rv := l[id], r[id]
		switch {
		case lv < rv:
			lessSeen = true
		case lv > rv:
			greaterSeen = true
		}
	}
	switch {
	case !lessSeen && !greaterSeen:
		return Equal
	case lessSeen && !greaterSeen:
		return Less
	case greaterSeen && !lessSeen:
		return Greater
	default:
		return Concurrent
	}
}

// GreaterOrEqual reports whether l dominates r in every component — the
// check spec §4.5 requires before a vote is granted ("peer vclock >= local
// vclock in every component").
func GreaterOrEqual(l, r VClock) bool {
	ord := Compare(l, r)
	return ord == Greater || ord == Equal
}

// Order is the result of comparing two vector clocks.
type Order int

const (
	Equal Order = iota
	Less
	Greater
	Concurrent
)

// CountGreaterOrEqual returns the number of components in v whose value is
// >= lsn — used by the limbo queue to compute ack_count for an entry
// (spec §4.6, "assign_lsn" / "ack").
func CountGreaterOrEqual(v VClock, lsn int64) int {
	n := 0
	for _, val := range v {
		if val >= lsn {
			n++
		}
	}
	return n
}
