package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
	"github.com/tarantool/dbcore/test/framework"
)

// meshTransport is a raft.Transport that delivers Broadcast directly to
// every other node's Engine in-process, generalizing pkg/raft's own
// single-node fakeTransport (raft_test.go) to a full mesh. Write still
// runs on its own goroutine and reports back via WriteComplete, the same
// fire-and-forget contract pkg/raftnet.Transport honors over real UDP.
type meshTransport struct {
	self types.PeerID
	mu   sync.RWMutex
	wal  []raft.Record

	engine *raft.Engine
	peers  map[types.PeerID]*meshTransport
}

func newMeshTransport(self types.PeerID) *meshTransport {
	return &meshTransport{self: self, peers: make(map[types.PeerID]*meshTransport)}
}

func (m *meshTransport) setEngine(e *raft.Engine) { m.engine = e }

func (m *meshTransport) Broadcast(msg raft.Message) {
	m.mu.RLock()
	peers := make([]*meshTransport, 0, len(m.peers))
	for id, p := range m.peers {
		if id != m.self {
			peers = append(peers, p)
		}
	}
	m.mu.RUnlock()
	for _, p := range peers {
		if p.engine != nil {
			_ = p.engine.ProcessMsg(m.self, msg)
		}
	}
}

func (m *meshTransport) Write(term uint64, vote types.PeerID) {
	go func() {
		m.mu.Lock()
		m.wal = append(m.wal, raft.Record{Term: term, Vote: vote})
		m.mu.Unlock()
		if m.engine != nil {
			m.engine.WriteComplete()
		}
	}()
}

// newRaftCluster wires n candidate engines into a full mesh and starts
// them, the in-process equivalent of cmd/dbcored's raftnet.Transport
// wiring.
func newRaftCluster(t *testing.T, ctx context.Context, n int, quorum int) ([]*raft.Engine, []*meshTransport) {
	t.Helper()
	cfg := raft.DefaultConfig()
	cfg.ElectionTimeout = 30 * time.Millisecond
	cfg.DeathTimeout = 60 * time.Millisecond
	cfg.ElectionQuorum = quorum
	cfg.ClusterSize = n

	engines := make([]*raft.Engine, n)
	transports := make([]*meshTransport, n)
	for i := 0; i < n; i++ {
		id := types.PeerID(i + 1)
		transports[i] = newMeshTransport(id)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				transports[i].peers[transports[j].self] = transports[j]
			}
		}
	}
	for i := 0; i < n; i++ {
		id := types.PeerID(i + 1)
		e := raft.New(cfg, id, vclock.New(), transports[i], clock.New(), events.NewBroker(), zerolog.Nop())
		transports[i].setEngine(e)
		engines[i] = e
	}
	for _, e := range engines {
		e.Start(ctx)
	}
	return engines, transports
}

// TestRaftElectsExactlyOneLeader checks spec §4.5's core election
// invariant: eventually exactly one node converges on StateLeader, and
// it stays alone there while heartbeats (here, broadcasts on every
// further state change) keep flowing.
func TestRaftElectsExactlyOneLeader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines, _ := newRaftCluster(t, ctx, 3, 2)
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	w := framework.DefaultWaiter()
	require.NoError(t, w.WaitFor(ctx, func() bool {
		leaders := 0
		for _, e := range engines {
			if e.Snapshot().State == raft.StateLeader {
				leaders++
			}
		}
		return leaders == 1
	}, "exactly one leader elected"))

	leaders := 0
	for _, e := range engines {
		if e.Snapshot().State == raft.StateLeader {
			leaders++
		}
	}
	require.Equal(t, 1, leaders, "still exactly one leader after convergence settles")
}

// TestRaftReelectsAfterLeaderLoss checks that removing the leader from
// every survivor's peer list (so the survivors no longer reach it) lets
// the survivors elect a new one once DeathTimeout elapses.
func TestRaftReelectsAfterLeaderLoss(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines, transports := newRaftCluster(t, ctx, 3, 2)
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
	}, "initial leader elected"))

	leaderID := transports[leaderIdx].self
	for i, tr := range transports {
		if i == leaderIdx {
			continue
		}
		tr.mu.Lock()
		delete(tr.peers, leaderID)
		tr.mu.Unlock()
	}

	require.NoError(t, w.WaitFor(ctx, func() bool {
		for i, e := range engines {
			if i == leaderIdx {
				continue
			}
			if e.Snapshot().State == raft.StateLeader {
				return true
			}
		}
		return false
	}, "a survivor becomes the new leader"))
}
