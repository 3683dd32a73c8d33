package main

import (
	"context"
	"time"

	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/limbo"
	"github.com/tarantool/dbcore/pkg/log"
	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/raftnet"
	"github.com/tarantool/dbcore/pkg/types"
)

// heartbeatInterval is how often a Raft leader re-pings its peers to keep
// their leader_last_seen fresh between state-transition broadcasts (see
// pkg/raftnet's packetKind doc comment).
const heartbeatInterval = 500 * time.Millisecond

// runLeadershipWatcher subscribes to raft.EventUpdate and bridges the two
// decisions an external caller must make that pkg/raft itself has no
// opinion on: who owns the limbo queue, and who sends heartbeats. Every
// state change cancels whatever heartbeat ticker was running for the
// previous term before (possibly) starting a new one, so there is never
// more than one ticker goroutine alive at a time. It returns a stop func
// that unsubscribes and halts any running ticker.
func runLeadershipWatcher(ctx context.Context, brk *events.Broker, self types.PeerID, trans *raftnet.Transport, queue *limbo.Queue) func() {
	sub := brk.Subscribe()
	done := make(chan struct{})
	var cancelHeartbeat context.CancelFunc

	go func() {
		defer close(done)
		defer func() {
			if cancelHeartbeat != nil {
				cancelHeartbeat()
			}
		}()
		wasLeader := false
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
				isLeader := ev.Metadata["state"] == raft.StateLeader.String()
				if isLeader == wasLeader {
					continue
				}
				wasLeader = isLeader
				if cancelHeartbeat != nil {
					cancelHeartbeat()
					cancelHeartbeat = nil
				}
				if isLeader {
					queue.SetOwner(self)
					log.Info("elected leader, taking ownership of the limbo queue")
					var hbCtx context.Context
					hbCtx, cancelHeartbeat = context.WithCancel(ctx)
					go runHeartbeatTicker(hbCtx, trans)
				} else {
					log.Info("lost leadership")
				}
			}
		}
	}()

	return func() {
		brk.Unsubscribe(sub)
		<-done
	}
}

func runHeartbeatTicker(ctx context.Context, trans *raftnet.Transport) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trans.SendHeartbeat()
		}
	}
}
