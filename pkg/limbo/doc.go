// Package limbo implements the synchronous-replication transaction queue
// (spec §3.3 / §4.6): an ordered, per-owner queue of entries awaiting
// acknowledgement from a quorum of replicas before they may commit.
//
// Entries enter the queue volatile, are submitted once their WAL write
// starts, and leave terminal (commit or rollback). Commit always proceeds
// head-to-tail in enqueue order; rollback always proceeds tail-to-head
// ("cascading" rollback of everything after the failure point). The queue
// never reorders an entry relative to its neighbors.
//
// Where the original fiber-based implementation suspends the submitting
// fiber on a condition variable and re-evaluates a handful of predicates on
// every spurious wakeup, this package instead closes a per-entry channel
// exactly once, when that entry's fate is decided (promoted to submitted,
// or rolled back). Submit blocks the caller on that channel instead of a
// shared cond; the engine goroutine is the only place that ever touches
// queue state, matching the single-owning-goroutine shape used by
// pkg/swim and pkg/raft.
package limbo
