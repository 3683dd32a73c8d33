package swim

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/tarantool/dbcore/pkg/types"
)

// table holds the full membership view. It is only ever touched from the
// engine's owning goroutine, so it needs no internal locking; Engine
// exposes read-only snapshots to other goroutines via Clone.
type table struct {
	members map[uuid.UUID]*MemberRef
	// order is the round-robin probe order: a simple slice of UUIDs,
	// rotated one step per round (spec §4.1's "round-robin member
	// list").
	order []uuid.UUID
	next  int
}

func newTable() *table {
	return &table{members: make(map[uuid.UUID]*MemberRef)}
}

func (t *table) get(id uuid.UUID) *Member {
	ref, ok := t.members[id]
	if !ok {
		return nil
	}
	return ref.Get()
}

func (t *table) getRef(id uuid.UUID) *MemberRef {
	return t.members[id]
}

// upsert applies an incoming claim about a member, keeping the
// numerically greater incarnation per spec §3.1's coexistence rule: a
// claim with a strictly newer incarnation always wins; a claim with an
// equal incarnation but a "more dead" status wins (alive < suspected <
// dead); anything else is stale and ignored. Returns the resulting
// member and whether this call actually changed anything observable.
func (t *table) upsert(id uuid.UUID, addr types.Addr, status Status, inc Incarnation, payload []byte) (*Member, bool) {
	existing, ok := t.members[id]
	if !ok {
		m := &Member{UUID: id, Addr: addr, Status: status, Incarnation: inc, Payload: payload}
		m.ttd = 1
		t.members[id] = newMemberRef(m)
		t.order = append(t.order, id)
		return m, true
	}
	cur := existing.Get()
	if cur == nil {
		return nil, false
	}
	if inc.Less(cur.Incarnation) {
		return cur, false
	}
	if cur.Incarnation == inc && status.Rank() <= cur.Status.Rank() {
		return cur, false
	}
	cur.Incarnation = inc
	cur.Status = status
	cur.unackedRounds = 0
	if payload != nil {
		cur.Payload = payload
	}
	return cur, true
}

// Rank orders a Status by "more dead": used for the incarnation tie-break
// in upsert (spec §3.1).
func (s Status) Rank() int { return int(s) }

func (t *table) remove(id uuid.UUID) {
	ref, ok := t.members[id]
	if !ok {
		return
	}
	ref.markDropped()
	delete(t.members, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	if t.next > len(t.order) {
		t.next = 0
	}
}

func (t *table) len() int { return len(t.members) }

// nextProbeTarget returns the next member in round-robin order,
// excluding exclude (normally the local member), advancing the cursor.
// Returns nil if the table (minus exclude) is empty.
func (t *table) nextProbeTarget(exclude uuid.UUID) *Member {
	n := len(t.order)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := (t.next + i) % n
		id := t.order[idx]
		if id == exclude {
			continue
		}
		if m := t.get(id); m != nil && m.Status != StatusLeft {
			t.next = (idx + 1) % n
			return m
		}
	}
	return nil
}

// randomSample returns up to k members, excluding exclude and Left
// members, for indirect probing or anti-entropy (spec §4.1). Members are
// picked in a fresh random order on every call.
func (t *table) randomSample(exclude uuid.UUID, k int) []*Member {
	out := make([]*Member, 0, k)
	for _, i := range rand.Perm(len(t.order)) {
		id := t.order[i]
		if id == exclude {
			continue
		}
		m := t.get(id)
		if m == nil || m.Status == StatusLeft {
			continue
		}
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out
}

// all returns every member currently in the table.
func (t *table) all() []*Member {
	out := make([]*Member, 0, len(t.members))
	for _, id := range t.order {
		if m := t.get(id); m != nil {
			out = append(out, m)
		}
	}
	return out
}
