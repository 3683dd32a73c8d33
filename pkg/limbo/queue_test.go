package limbo

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/types"
)

func newTestQueue(t *testing.T, cfg Config, self, owner types.PeerID) *Queue {
	t.Helper()
	rc := clock.New()
	brk := events.NewBroker()
	brk.Start()
	t.Cleanup(brk.Stop)
	q := New(cfg, self, rc, brk, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	t.Cleanup(func() { _ = q.Close() })
	if owner != 0 {
		q.SetOwner(owner)
	}
	return q
}

func TestSubmitRejectsUnclaimedQueue(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 0)
	_, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 10)
	require.Error(t, err)
	qe, ok := err.(*QueueError)
	require.True(t, ok)
	assert.Equal(t, ErrKindUnclaimed, qe.Kind)
}

func TestSubmitRejectsForeignOrigin(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)
	_, err := q.Submit(context.Background(), 2, Txn{WaitAck: true}, 10)
	require.Error(t, err)
	qe, ok := err.(*QueueError)
	require.True(t, ok)
	assert.Equal(t, ErrKindForeignOwner, qe.Kind)
}

func TestSubmitImmediatelyWhenNotFull(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)
	e, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 10)
	require.NoError(t, err)
	assert.Equal(t, StateSubmitted, e.State)
	assert.Equal(t, 1, q.Snapshot().Len)
}

func TestSubmitBlocksWhenFullThenAdvancesOnConfirm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 10
	q := newTestQueue(t, cfg, 1, 1)

	e1, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 10)
	require.NoError(t, err)
	q.AssignLSN(e1, 1)

	done := make(chan struct{})
	var e2 *Entry
	var err2 error
	go func() {
		e2, err2 = q.Submit(context.Background(), 1, Txn{WaitAck: true}, 5)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second submit should still be blocked: queue is full")
	default:
	}

	q.ApplyConfirm(1) // frees e1's space, should unblock e2
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second submit never unblocked")
	}
	require.NoError(t, err2)
	assert.Equal(t, StateSubmitted, e2.State)
}

func TestAckAggregationReachesQuorumAndConfirms(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quorum = 2
	q := newTestQueue(t, cfg, 1, 1)

	e, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 10)
	require.NoError(t, err)
	q.AssignLSN(e, 5)

	due := q.Ack(2, 5)
	assert.False(t, due, "one ack is not quorum yet")
	due = q.Ack(3, 5)
	assert.True(t, due, "second ack reaches quorum of 2")

	st := q.Snapshot()
	assert.GreaterOrEqual(t, st.VolatileConfirmedLSN, int64(5))

	q.ApplyConfirm(5)
	assert.Equal(t, StateCommit, e.State)
}

func TestApplyRollbackCascadesFromTail(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)

	e1, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e1, 1)
	e2, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e2, 2)
	e3, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e3, 3)

	q.ApplyRollback(2, queueErr(ErrKindRollback, "sync timeout"))

	assert.Equal(t, StateSubmitted, e1.State, "entry below the rollback boundary survives")
	assert.Equal(t, StateRollback, e2.State)
	assert.Equal(t, StateRollback, e3.State)
}

func TestTransferOwnershipConfirmsThenRollsBackAboveBorder(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)

	e1, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e1, 5)
	e2, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e2, 6)
	e3, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e3, 7)

	q.TransferOwnership(2, 6)

	assert.Equal(t, StateCommit, e1.State)
	assert.Equal(t, StateCommit, e2.State)
	assert.Equal(t, StateRollback, e3.State)
	assert.Equal(t, types.PeerID(2), q.Snapshot().OwnerID)
}

func TestWaitCompleteReturnsOnConfirm(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)
	e, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.ApplyConfirm(1)
	}()

	err = q.WaitComplete(context.Background(), e)
	assert.NoError(t, err)
}

func TestWaitCompleteReportsRollback(t *testing.T) {
	q := newTestQueue(t, DefaultConfig(), 1, 1)
	e, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	q.AssignLSN(e, 1)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.ApplyRollback(1, queueErr(ErrKindRollback, "test"))
	}()

	err = q.WaitComplete(context.Background(), e)
	require.Error(t, err)
}

func TestSubmitCancellationCascadesVolatileTail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 1
	q := newTestQueue(t, cfg, 1, 1)

	e1, err := q.Submit(context.Background(), 1, Txn{WaitAck: true}, 1)
	require.NoError(t, err)
	_ = e1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, serr := q.Submit(ctx, 1, Txn{WaitAck: true}, 1)
		done <- serr
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("cancelled submit never returned")
	}
}
