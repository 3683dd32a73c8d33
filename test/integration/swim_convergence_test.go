package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/swim"
	"github.com/tarantool/dbcore/pkg/swimnet"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/test/framework"
)

// newSWIMCluster binds n engines to a shared MemoryNetwork and starts
// them, mirroring cmd/dbcored's wiring but over the in-memory transport
// pkg/swimnet provides for exactly this purpose instead of real UDP.
func newSWIMCluster(t *testing.T, ctx context.Context, n int) []*swim.Engine {
	t.Helper()
	net := swimnet.NewMemoryNetwork()
	cfg := swim.DefaultConfig()
	cfg.ProbeInterval = 30 * time.Millisecond
	cfg.AckTimeout = 15 * time.Millisecond
	cfg.AntiEntropyInterval = 40 * time.Millisecond

	engines := make([]*swim.Engine, n)
	for i := 0; i < n; i++ {
		addr, err := types.ParseAddr(fmt.Sprintf("127.0.0.1:%d", 20000+i))
		require.NoError(t, err)
		trans, err := net.Bind(addr)
		require.NoError(t, err)
		engines[i] = swim.New(swim.EngineConfig{
			Config:    cfg,
			Clock:     clock.New(),
			Transport: trans,
			Broker:    events.NewBroker(),
			Logger:    zerolog.Nop(),
			SelfUUID:  uuid.New(),
		})
	}
	for i, e := range engines {
		for j, other := range engines {
			if i == j {
				continue
			}
			e.AddMember(other.Snapshot()[0].Addr, other.Snapshot()[0].UUID)
		}
		e.Start(ctx)
	}
	return engines
}

// TestSWIMConvergence checks that every node's table eventually lists
// every other node as Alive, the membership invariant spec §4.1 builds
// its dissemination protocol to maintain.
func TestSWIMConvergence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines := newSWIMCluster(t, ctx, 4)
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	w := framework.DefaultWaiter()
	err := w.WaitFor(ctx, func() bool {
		for _, e := range engines {
			alive := 0
			for _, m := range e.Snapshot() {
				if m.Status == swim.StatusAlive {
					alive++
				}
			}
			if alive != len(engines) {
				return false
			}
		}
		return true
	}, "all nodes converging on 4 alive members")
	require.NoError(t, err)
}

// TestSWIMDetectsDeparture checks that when one node stops responding,
// at least one survivor stops reporting it Alive (the first step of spec
// §4.1's alive -> suspected -> dead transition).
func TestSWIMDetectsDeparture(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engines := newSWIMCluster(t, ctx, 4)
	defer func() {
		for _, e := range engines {
			e.Close()
		}
	}()

	w := framework.DefaultWaiter()
	require.NoError(t, w.WaitFor(ctx, func() bool {
		for _, e := range engines {
			if len(e.Snapshot()) != len(engines) {
				return false
			}
		}
		return true
	}, "initial convergence"))

	gone := engines[0]
	goneUUID := gone.Snapshot()[0].UUID
	gone.Close()
	survivors := engines[1:]

	require.NoError(t, w.WaitFor(ctx, func() bool {
		for _, e := range survivors {
			for _, m := range e.Snapshot() {
				if m.UUID == goneUUID && m.Status != swim.StatusAlive {
					return true
				}
			}
		}
		return false
	}, "departed node marked non-alive by at least one survivor"))
}
