package limbo

import (
	"container/list"
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/metrics"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

var errCascaded = queueErr(ErrKindRollback, "cascaded by a later failure")
var errCancelled = queueErr(ErrKindRollback, "submission cancelled")
var errOwnershipTransfer = queueErr(ErrKindRollback, "ownership transfer border crossed")

// Queue is one limbo queue, scoped to a single owner at a time (spec
// §3.3). All mutation runs on a single owning goroutine; Submit and
// WaitComplete are the only calls that may block their caller while that
// goroutine keeps servicing everyone else, the same shape pkg/swim and
// pkg/raft use for their engines.
type Queue struct {
	cfg    Config
	selfID types.PeerID
	clk    clock.Clock
	brk    *events.Broker
	log    zerolog.Logger

	ownerID types.PeerID
	entries *list.List // of *Entry

	size int
	len  int

	ackCount             int
	confirmedLSN         int64
	volatileConfirmedLSN int64
	confirmedVClock      vclock.VClock
	entryToConfirm       *Entry
	ackVClock            vclock.VClock

	cmdCh   chan func()
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// New constructs a Queue with no owner (spec: "owner_id = nil ⇒ queue
// empty"). Call SetOwner once a Raft election (or static config) assigns
// one.
func New(cfg Config, selfID types.PeerID, clk clock.Clock, brk *events.Broker, logger zerolog.Logger) *Queue {
	return &Queue{
		cfg:             cfg,
		selfID:          selfID,
		clk:             clk,
		brk:             brk,
		log:             logger.With().Str("component", "limbo").Logger(),
		entries:         list.New(),
		confirmedVClock: vclock.New(),
		ackVClock:       vclock.New(),
		cmdCh:           make(chan func()),
		closeCh:         make(chan struct{}),
	}
}

// Start launches the queue's owning goroutine.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.run(ctx)
}

// Close stops the queue. Any entry still waiting in Submit or WaitComplete
// observes the queue's closeCh and returns ErrKindClosed.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeCh)
	q.wg.Wait()
	return nil
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeCh:
			return
		case fn := <-q.cmdCh:
			fn()
		}
	}
}

func (q *Queue) do(fn func()) {
	select {
	case q.cmdCh <- fn:
	case <-q.closeCh:
	}
}

func (q *Queue) doSync(fn func()) {
	done := make(chan struct{})
	q.do(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-q.closeCh:
	}
}

func (q *Queue) now() time.Time { return q.clk.Now() }

// SetOwner assigns the Raft-elected replication owner (spec §3.3's
// owner_id). Passing 0 clears ownership; the caller is responsible for
// ensuring the queue is empty first (spec invariant "owner_id = nil ⇒
// queue empty").
func (q *Queue) SetOwner(owner types.PeerID) {
	q.do(func() { q.ownerID = owner })
}

// Status is a point-in-time read of the queue's externally visible state.
type Status struct {
	OwnerID              types.PeerID
	Len                  int
	Size                 int
	AckCount             int
	ConfirmedLSN         int64
	VolatileConfirmedLSN int64
	EntryToConfirmLSN    int64 // NoLSN if none pending
}

// Snapshot reads the queue's current state.
func (q *Queue) Snapshot() Status {
	var st Status
	q.doSync(func() {
		st = Status{
			OwnerID:              q.ownerID,
			Len:                  q.len,
			Size:                 q.size,
			AckCount:             q.ackCount,
			ConfirmedLSN:         q.confirmedLSN,
			VolatileConfirmedLSN: q.volatileConfirmedLSN,
			EntryToConfirmLSN:    NoLSN,
		}
		if q.entryToConfirm != nil {
			st.EntryToConfirmLSN = q.entryToConfirm.LSN
		}
	})
	return st
}

// Submit enqueues txn (spec §4.6 "Submit"). If the queue must block the
// caller (full, or the tail is still volatile), Submit waits until the
// entry is promoted to submitted, cascaded into rollback, or ctx is
// cancelled.
func (q *Queue) Submit(ctx context.Context, originID types.PeerID, txn Txn, approxLen int) (*Entry, error) {
	var entry *Entry
	var err error
	q.doSync(func() {
		entry, err = q.submitLocked(originID, txn, approxLen)
	})
	if err != nil {
		return nil, err
	}
	if entry.State != StateVolatile {
		return entry, nil
	}
	select {
	case <-entry.readyCh:
	case <-ctx.Done():
		q.doSync(func() { q.detachLocked(entry) })
		return nil, ctx.Err()
	case <-q.closeCh:
		return nil, queueErr(ErrKindClosed, "queue closed while submission pending")
	}
	if entry.State == StateRollback {
		return nil, entry.err
	}
	return entry, nil
}

func (q *Queue) submitLocked(originID types.PeerID, txn Txn, approxLen int) (*Entry, error) {
	if q.ownerID == 0 {
		return nil, queueErr(ErrKindUnclaimed, "replication owner is not set")
	}
	if originID != q.ownerID && !txn.FullyLocal {
		return nil, queueErr(ErrKindForeignOwner, fmt.Sprintf("owner is %d", q.ownerID))
	}
	e := &Entry{
		Txn:           txn,
		OriginID:      originID,
		ApproxLen:     approxLen,
		LSN:           NoLSN,
		InsertionTime: q.now(),
		readyCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	if q.entryToConfirm == nil && txn.WaitAck {
		q.entryToConfirm = e
		q.ackCount = 0
	}
	wouldBlock := q.wouldBlockLocked()
	e.elem = q.entries.PushBack(e)
	if !wouldBlock {
		e.State = StateSubmitted
		q.onAppendLocked(e)
		e.closeReady()
		return e, nil
	}
	e.State = StateVolatile
	return e, nil
}

func (q *Queue) wouldBlockLocked() bool {
	if q.isFullLocked() && q.ownerID == q.selfID {
		return true
	}
	if q.entries.Len() == 0 {
		return false
	}
	last := q.entries.Back().Value.(*Entry)
	return last.State == StateVolatile
}

func (q *Queue) isFullLocked() bool { return q.size >= q.cfg.MaxSize }

func (q *Queue) onAppendLocked(e *Entry) {
	q.size += e.ApproxLen
	q.len++
	metrics.LimboQueueLength.Set(float64(q.len))
}

func (q *Queue) onRemoveLocked(e *Entry) {
	q.size -= e.ApproxLen
	q.len--
	metrics.LimboQueueLength.Set(float64(q.len))
}

// tryAdvanceVolatileLocked promotes the run of volatile entries starting
// at the head of the queue to submitted, as long as capacity allows,
// waking every promoted entry's Submit caller (spec §4.6: "wake the next
// one up so it would check if it can also be submitted").
func (q *Queue) tryAdvanceVolatileLocked() {
	for el := q.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e.State != StateVolatile {
			continue
		}
		if q.isFullLocked() {
			return
		}
		e.State = StateSubmitted
		q.onAppendLocked(e)
		e.closeReady()
	}
}

// detachLocked handles a cancelled Submit call: cascade-rollback any
// still-volatile entries newer than entry, then fail entry itself.
func (q *Queue) detachLocked(entry *Entry) {
	if entry.elem == nil || entry.State != StateVolatile {
		return
	}
	q.rollbackVolatileUpToLocked(entry)
	q.completeFailLocked(entry.elem, errCancelled)
}

// rollbackVolatileUpToLocked cascade-fails volatile entries from the tail
// down to (but not including) last. last == nil rolls back every
// still-volatile entry (spec's rollback_all_volatile).
func (q *Queue) rollbackVolatileUpToLocked(last *Entry) {
	for {
		el := q.entries.Back()
		if el == nil {
			return
		}
		e := el.Value.(*Entry)
		if e == last || e.State != StateVolatile {
			return
		}
		q.completeFailLocked(el, errCascaded)
	}
}

// RollbackAllVolatile fails every entry still in the volatile state,
// tail-first.
func (q *Queue) RollbackAllVolatile() {
	q.doSync(func() { q.rollbackVolatileUpToLocked(nil) })
}

func (q *Queue) completeSuccessLocked(el *list.Element) {
	e := el.Value.(*Entry)
	wasVolatile := e.State == StateVolatile
	e.State = StateCommit
	q.entries.Remove(el)
	e.elem = nil
	if !wasVolatile {
		q.onRemoveLocked(e)
	}
	e.closeReady()
	e.closeDone()
	metrics.LimboConfirmDuration.Observe(q.now().Sub(e.InsertionTime).Seconds())
	if q.brk != nil {
		q.brk.Publish(&events.Event{
			Type:     EventConfirm,
			Message:  "entry confirmed",
			Metadata: map[string]string{"lsn": strconv.FormatInt(e.LSN, 10)},
		})
	}
}

func (q *Queue) completeFailLocked(el *list.Element, cause error) {
	e := el.Value.(*Entry)
	wasVolatile := e.State == StateVolatile
	e.State = StateRollback
	e.err = cause
	if e == q.entryToConfirm {
		q.entryToConfirm = nil
	}
	q.entries.Remove(el)
	e.elem = nil
	if !wasVolatile {
		q.onRemoveLocked(e)
	}
	e.closeReady()
	e.closeDone()
	metrics.LimboRollbacksTotal.Inc()
	if q.brk != nil {
		q.brk.Publish(&events.Event{Type: EventRollback, Message: cause.Error()})
	}
}

// AssignLSN records the WAL-assigned LSN for entry (spec §4.6 "Assign
// LSN"). Must be called exactly once per entry.
func (q *Queue) AssignLSN(entry *Entry, lsn int64) {
	q.doSync(func() {
		entry.LSN = lsn
		if q.ownerID == q.selfID && entry == q.entryToConfirm {
			q.ackCount = vclock.CountGreaterOrEqual(q.ackVClock, lsn)
		}
	})
}

// Ack records that replicaID has replicated up to lsn (spec §4.6 "ACK").
// Returns true when a CONFIRM write is now due.
func (q *Queue) Ack(replicaID types.PeerID, lsn int64) bool {
	var due bool
	q.doSync(func() { due = q.ackLocked(replicaID, lsn) })
	return due
}

func (q *Queue) ackLocked(replicaID types.PeerID, lsn int64) bool {
	if q.entries.Len() == 0 {
		return false
	}
	prevLSN := q.ackVClock.Get(replicaID)
	if lsn == prevLSN {
		return false
	}
	q.ackVClock.Follow(replicaID, lsn)
	if q.entryToConfirm == nil || q.entryToConfirm.LSN == NoLSN {
		return false
	}
	if q.entryToConfirm.LSN <= prevLSN || lsn < q.entryToConfirm.LSN {
		return false
	}
	q.ackCount++
	return q.bumpVolatileConfirmLocked()
}

// bumpVolatileConfirmLocked implements spec's "advance volatile_confirmed_lsn
// to the highest LSN of consecutive ack'd entries, moving entry_to_confirm
// forward" once quorum is reached.
func (q *Queue) bumpVolatileConfirmLocked() bool {
	if q.entryToConfirm == nil || q.entryToConfirm.LSN == NoLSN {
		return false
	}
	if q.ackCount < q.cfg.Quorum {
		return false
	}
	k := len(q.ackVClock) - q.cfg.Quorum
	if k < 0 {
		k = 0
	}
	confirmLSN := nthElement(q.ackVClock, k)

	start := q.entryToConfirm.elem
	q.entryToConfirm = nil
	maxAssigned := int64(-1)
	for el := start; el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if !e.Txn.WaitAck {
			continue
		}
		if e.LSN == NoLSN || e.LSN > confirmLSN {
			q.entryToConfirm = e
			if e.LSN == NoLSN {
				q.ackCount = 0
			} else {
				q.ackCount = vclock.CountGreaterOrEqual(q.ackVClock, e.LSN)
			}
			break
		}
		maxAssigned = e.LSN
	}
	if maxAssigned == -1 {
		return false
	}
	q.volatileConfirmedLSN = maxAssigned
	return true
}

func nthElement(v vclock.VClock, k int) int64 {
	vals := make([]int64, 0, len(v))
	for _, val := range v {
		vals = append(vals, val)
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	if k < 0 || k >= len(vals) {
		return 0
	}
	return vals[k]
}

// ApplyConfirm completes every entry whose LSN is covered by a received
// CONFIRM write (spec §4.6 "Confirm application").
func (q *Queue) ApplyConfirm(lsn int64) {
	q.doSync(func() { q.applyConfirmLocked(lsn) })
}

func (q *Queue) applyConfirmLocked(lsn int64) {
	for {
		el := q.entries.Front()
		if el == nil {
			break
		}
		e := el.Value.(*Entry)
		if e.State == StateVolatile {
			// Only the tail may still be volatile; piggyback it on the
			// next confirm instead of completing it now.
			break
		}
		if e.Txn.WaitAck {
			if e.LSN == NoLSN || e.LSN > lsn {
				break
			}
			if q.confirmedLSN < e.LSN {
				q.confirmedLSN = e.LSN
				q.confirmedVClock.Follow(q.ownerID, e.LSN)
			}
		}
		q.completeSuccessLocked(el)
	}
	if q.confirmedLSN < lsn {
		q.confirmedLSN = lsn
		q.confirmedVClock.Follow(q.ownerID, lsn)
	}
	q.tryAdvanceVolatileLocked()
}

// ApplyRollback cascade-fails entries at or above lsn (spec §4.6 "Rollback
// application"). cause is attached to every failed entry's error.
func (q *Queue) ApplyRollback(lsn int64, cause error) {
	q.doSync(func() { q.applyRollbackLocked(lsn, cause) })
}

func (q *Queue) applyRollbackLocked(lsn int64, cause error) {
	var lastRollback *list.Element
	for el := q.entries.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*Entry)
		if !e.Txn.WaitAck {
			continue
		}
		if e.LSN < lsn {
			break
		}
		lastRollback = el
	}
	if lastRollback == nil {
		return
	}
	if cause == nil {
		cause = queueErr(ErrKindRollback, "synchronous rollback")
	}
	for {
		el := q.entries.Back()
		if el == nil {
			return
		}
		isTarget := el == lastRollback
		q.completeFailLocked(el, cause)
		if isTarget {
			q.tryAdvanceVolatileLocked()
			return
		}
	}
}

// TransferOwnership confirms up to borderLSN, rolls back everything
// above it, and hands the queue to newOwner (spec §4.6 "Ownership
// transfer").
func (q *Queue) TransferOwnership(newOwner types.PeerID, borderLSN int64) {
	q.doSync(func() {
		q.applyConfirmLocked(borderLSN)
		q.applyRollbackLocked(borderLSN+1, errOwnershipTransfer)
		q.ownerID = newOwner
		q.confirmedLSN = q.confirmedVClock.Get(newOwner)
		q.volatileConfirmedLSN = q.confirmedLSN
		q.entryToConfirm = nil
		metrics.LimboOwnershipTransfersTotal.Inc()
		if q.brk != nil {
			q.brk.Publish(&events.Event{
				Type:    EventOwnershipTransfer,
				Message: "ownership transferred",
				Metadata: map[string]string{
					"new_owner":  strconv.FormatUint(uint64(newOwner), 10),
					"border_lsn": strconv.FormatInt(borderLSN, 10),
				},
			})
		}
	})
}

// WaitComplete blocks until entry reaches a terminal state (spec §4.6
// "Waiters"). On timeout with rollback enabled, the head waiter is told
// to roll the entry back itself via ErrKindNeedRollback; any other
// waiter keeps waiting for whoever is already resolving the head.
func (q *Queue) WaitComplete(ctx context.Context, entry *Entry) error {
	if entry.Done() {
		if entry.State == StateRollback {
			return entry.err
		}
		return nil
	}
	timer := q.clk.NewTimer(q.cfg.WaitTimeout)
	defer timer.Stop()
	select {
	case <-entry.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeCh:
		return queueErr(ErrKindClosed, "queue closed")
	case <-timer.C():
		if !q.cfg.RollbackOnTimeout {
			return queueErr(ErrKindTimeout, "synchronous replication timed out")
		}
		var needRollback bool
		q.doSync(func() {
			needRollback = !entry.Done() && q.isHeadWaiterLocked(entry) && entry.LSN > q.volatileConfirmedLSN
		})
		if needRollback {
			return queueErr(ErrKindNeedRollback, "caller must roll this entry back")
		}
		select {
		case <-entry.doneCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if entry.State == StateRollback {
		return entry.err
	}
	return nil
}

func (q *Queue) isHeadWaiterLocked(entry *Entry) bool {
	for el := q.entries.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry)
		if e == entry {
			return true
		}
		if e.Txn.WaitAck {
			return false
		}
	}
	return true
}

// Flush waits for every currently-queued entry to leave the volatile
// state, by riding a nop transaction through Submit (spec §4.6 "Flush").
func (q *Queue) Flush(ctx context.Context) error {
	var owner types.PeerID
	q.doSync(func() { owner = q.ownerID })
	entry, err := q.Submit(ctx, owner, Txn{FullyLocal: true}, 0)
	if err != nil {
		return err
	}
	q.doSync(func() {
		if entry.elem == nil {
			return
		}
		wasVolatile := entry.State == StateVolatile
		q.entries.Remove(entry.elem)
		entry.elem = nil
		if !wasVolatile {
			q.onRemoveLocked(entry)
		}
	})
	return nil
}
