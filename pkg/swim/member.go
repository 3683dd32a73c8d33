// Package swim implements the SWIM membership and failure-detection
// engine (spec §4.1, §4.4): round-robin probing with indirect pings,
// suspicion timeouts, bounded dissemination, anti-entropy, and
// refutation. One Engine instance owns one member table and drives it
// from a single goroutine (spec §5's translation of the source's
// cooperative single-thread model), the same shape the teacher's
// pkg/worker/health_monitor.go gives its ticker-driven loops.
package swim

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/tarantool/dbcore/pkg/types"
)

// Status is the lattice position of a member: alive < suspected < dead <
// left (spec §3.1). Ordering matters for incarnation tie-breaks.
type Status int

const (
	StatusAlive Status = iota
	StatusSuspected
	StatusDead
	StatusLeft
)

func (s Status) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspected:
		return "suspected"
	case StatusDead:
		return "dead"
	case StatusLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Incarnation orders competing claims about the same member (spec §3.1):
// generation increases only when the member restarts with a new UUID
// coexistence boundary, version increases on every refutation.
type Incarnation struct {
	Generation uint64
	Version    uint64
}

// Less reports whether i is strictly older than other.
func (i Incarnation) Less(other Incarnation) bool {
	if i.Generation != other.Generation {
		return i.Generation < other.Generation
	}
	return i.Version < other.Version
}

// Member is one entry of the SWIM table.
type Member struct {
	UUID        uuid.UUID
	Addr        types.Addr
	Status      Status
	Incarnation Incarnation
	Payload     []byte

	// unackedRounds counts consecutive failure-detector rounds this
	// member has gone without directly or indirectly acking a probe
	// while Suspected. Reaching the engine's Config.SuspectTimeoutRounds
	// (spec's "S") transitions it to Dead.
	unackedRounds int

	// ttd bounds how many more rounds this member's current status
	// claim rides along in the dissemination section before it is
	// dropped as "fully disseminated" (spec §4.1 "TTD bookkeeping").
	ttd int
}

// Clone returns an independent copy suitable for handing to callers
// outside the engine's owning goroutine.
func (m *Member) Clone() *Member {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append([]byte(nil), m.Payload...)
	}
	return &cp
}

// MemberRef is a refcounted handle to a Member, held by the table for each
// entry. Dropped reports true once the table has removed the underlying
// member.
type MemberRef struct {
	member   *Member
	refcount int32
	dropped  atomic.Bool
}

func newMemberRef(m *Member) *MemberRef {
	return &MemberRef{member: m, refcount: 1}
}

// Get returns the referenced member, or nil if it has been dropped.
func (r *MemberRef) Get() *Member {
	if r.dropped.Load() {
		return nil
	}
	return r.member
}

// Dropped reports whether the table has removed this member.
func (r *MemberRef) Dropped() bool { return r.dropped.Load() }

// Retain increments the refcount.
func (r *MemberRef) Retain() { atomic.AddInt32(&r.refcount, 1) }

// Release decrements the refcount and returns the new count. The table
// does not consult the refcount: removing a member marks its ref dropped
// at once, after which Get returns nil whatever the count.
func (r *MemberRef) Release() int32 { return atomic.AddInt32(&r.refcount, -1) }

func (r *MemberRef) markDropped() { r.dropped.Store(true) }
