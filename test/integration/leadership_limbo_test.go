package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/limbo"
	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/test/framework"
)

// watchLeadership is a trimmed copy of cmd/dbcored/leadership.go's
// subscriber loop, exercising the same raft.EventUpdate -> limbo.SetOwner
// bridge this package's binary runs in production, against a single
// shared broker instead of cmd/dbcored's per-node one.
func watchLeadership(ctx context.Context, brk *events.Broker, self types.PeerID, queue *limbo.Queue) {
	sub := brk.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type != raft.EventUpdate {
					continue
				}
				if ev.Metadata["state"] == raft.StateLeader.String() {
					queue.SetOwner(self)
				}
			}
		}
	}()
}

// TestLeaderOwnsLimboQueue checks that once a node's raft.Engine
// transitions to StateLeader, the limbo queue bridged to it (spec §4.6's
// "queue.owner must track the Raft leader") picks up ownership and
// starts accepting submissions from that node.
func TestLeaderOwnsLimboQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines, _ := newRaftCluster(t, ctx, 3, 2)
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	w := framework.DefaultWaiter()
	var leaderIdx int
	require.NoError(t, w.WaitFor(ctx, func() bool {
		for i, e := range engines {
			if e.Snapshot().State == raft.StateLeader {
				leaderIdx = i
				return true
			}
		}
		return false
	}, "a leader is elected"))

	// The test cluster's engines each got their own broker in
	// newRaftCluster; rather than reach into those, publish a synthetic
	// leader EventUpdate on a fresh broker we also hand to the queue,
	// since EventUpdate only fires on further state changes and we already
	// missed the first one.
	brk := events.NewBroker()
	brk.Start()
	defer brk.Stop()

	self := types.PeerID(leaderIdx + 1)
	queueCfg := limbo.DefaultConfig()
	queueCfg.Quorum = 1
	queue := limbo.New(queueCfg, self, clock.New(), brk, zerolog.Nop())
	queue.Start(ctx)
	defer queue.Close()

	watchLeadership(ctx, brk, self, queue)
	brk.Publish(&events.Event{
		Type:     raft.EventUpdate,
		Metadata: map[string]string{"state": raft.StateLeader.String()},
	})

	require.NoError(t, w.WaitFor(ctx, func() bool {
		return queue.Snapshot().OwnerID == self
	}, "queue picks up ownership from the elected leader"))

	entry, err := queue.Submit(context.Background(), self, limbo.Txn{WaitAck: true}, 10)
	require.NoError(t, err)
	queue.AssignLSN(entry, 1)
	require.True(t, queue.Ack(self, 1))

	done := make(chan error, 1)
	go func() { done <- queue.WaitComplete(context.Background(), entry) }()
	queue.ApplyConfirm(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitComplete never returned")
	}
}
