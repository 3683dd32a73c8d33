package limbo

import (
	"container/list"
	"time"

	"github.com/tarantool/dbcore/pkg/types"
)

// EntryState is a limbo entry's lifecycle stage (spec §3.3).
type EntryState int

const (
	// StateVolatile: not yet sent to the WAL; may still be rolled back
	// as part of a cascade without ever having been submitted.
	StateVolatile EntryState = iota + 1
	// StateSubmitted: WAL write has started (or completed); waiting on
	// quorum ack before it may confirm.
	StateSubmitted
	// StateCommit is terminal: the entry was confirmed.
	StateCommit
	// StateRollback is terminal: the entry was rolled back.
	StateRollback
)

func (s EntryState) String() string {
	switch s {
	case StateVolatile:
		return "volatile"
	case StateSubmitted:
		return "submitted"
	case StateCommit:
		return "commit"
	case StateRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// NoLSN is the sentinel for "not yet assigned" (spec's lsn == -1).
const NoLSN int64 = -1

// Txn is the caller-supplied payload a limbo entry wraps. dbcore doesn't
// model a transaction itself; callers attach whatever identifies theirs.
type Txn struct {
	ID uint64
	// WaitAck marks a synchronous transaction that must be acked by
	// quorum before it commits (TXN_WAIT_ACK). Async transactions ride
	// along in the queue but confirm unconditionally once reached.
	WaitAck bool
	// FullyLocal lets a transaction bypass the foreign-owner check
	// (txn_is_fully_local): DDL and other operations that never
	// replicate don't need ownership of the limbo to enter it.
	FullyLocal bool
	// Data is opaque to the queue; the caller round-trips it through
	// Entry.Txn.
	Data any
}

// Entry is one transaction's position in the limbo queue (spec §3.3).
type Entry struct {
	Txn           Txn
	OriginID      types.PeerID
	ApproxLen     int
	LSN           int64
	InsertionTime time.Time
	State         EntryState

	elem *list.Element

	// readyCh closes once the entry leaves StateVolatile (promoted to
	// submitted, or cascade-failed while still volatile); it unblocks a
	// caller parked in Submit.
	readyCh chan struct{}
	// doneCh closes once the entry reaches a terminal state; it
	// unblocks a caller parked in WaitComplete.
	doneCh chan struct{}

	readyClosed bool
	doneClosed  bool

	err error
}

// Done reports whether the entry has reached a terminal state.
func (e *Entry) Done() bool {
	return e.State == StateCommit || e.State == StateRollback
}

func (e *Entry) closeReady() {
	if !e.readyClosed {
		e.readyClosed = true
		close(e.readyCh)
	}
}

func (e *Entry) closeDone() {
	if !e.doneClosed {
		e.doneClosed = true
		close(e.doneCh)
	}
}
