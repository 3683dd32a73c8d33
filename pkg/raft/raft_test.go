package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

// fakeTransport records broadcasts and, via an optional test-owned hook,
// completes WAL writes asynchronously (spawned on their own goroutine,
// never inline) so tests control exactly when WriteComplete fires
// without deadlocking the engine's owning goroutine against itself.
type fakeTransport struct {
	mu         sync.Mutex
	broadcasts []Message
	writes     []struct {
		term uint64
		vote types.PeerID
	}
	onWrite func(term uint64, vote types.PeerID)
}

func (f *fakeTransport) Broadcast(msg Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, msg)
}

// Write is fire-and-forget, matching the real contract (spec §4.5): it
// must never call back into the engine synchronously, since the engine's
// own goroutine is the one invoking Write in the first place.
func (f *fakeTransport) Write(term uint64, vote types.PeerID) {
	f.mu.Lock()
	f.writes = append(f.writes, struct {
		term uint64
		vote types.PeerID
	}{term, vote})
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		go hook(term, vote)
	}
}

func (f *fakeTransport) last() (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.broadcasts) == 0 {
		return Message{}, false
	}
	return f.broadcasts[len(f.broadcasts)-1], true
}

func newTestEngine(t *testing.T, self types.PeerID, clusterSize, quorum int) (*Engine, *fakeTransport, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtual(time.Unix(0, 0))
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ClusterSize = clusterSize
	cfg.ElectionQuorum = quorum
	cfg.ElectionTimeout = 100 * time.Millisecond
	cfg.DeathTimeout = 200 * time.Millisecond
	cfg.MaxShift = 0
	brk := events.NewBroker()
	brk.Start()
	t.Cleanup(brk.Stop)
	e := New(cfg, self, vclock.New(), tr, vc, brk, zerolog.Nop())
	return e, tr, vc
}

// autoCompleteWrites makes every Write on tr immediately call back into e,
// simulating a synchronous WAL for tests that don't care about the
// write-in-progress window.
func autoCompleteWrites(tr *fakeTransport, e *Engine) {
	tr.onWrite = func(uint64, types.PeerID) { e.WriteComplete() }
}

func TestElectionSingleCandidateBecomesLeader(t *testing.T) {
	e, tr, vc := newTestEngine(t, 1, 3, 2)
	autoCompleteWrites(tr, e)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	vc.Advance(150 * time.Millisecond) // election timeout fires, node 1 becomes candidate
	time.Sleep(30 * time.Millisecond)

	term := e.Snapshot().Term
	require.NoError(t, e.ProcessMsg(2, Message{Term: term, Vote: 1, State: StateFollower, IsLeaderSeen: false}))
	require.NoError(t, e.ProcessMsg(3, Message{Term: term, Vote: 1, State: StateFollower, IsLeaderSeen: false}))

	st := e.Snapshot()
	assert.Equal(t, StateLeader, st.State)
	assert.Equal(t, types.PeerID(1), st.Leader)
}

func TestSplitVoteShrinksTimer(t *testing.T) {
	// Scenario 4: cluster_size=4, quorum=3. N1 votes self, N2 votes N1,
	// N3 votes N4, N4 votes N4: max_vote=2, vote_vac=0, 2+0<3 => split.
	e, tr, vc := newTestEngine(t, 1, 4, 3)
	autoCompleteWrites(tr, e)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	vc.Advance(150 * time.Millisecond) // N1 becomes candidate for term 2
	time.Sleep(30 * time.Millisecond)
	term := e.Snapshot().Term

	require.NoError(t, e.ProcessMsg(2, Message{Term: term, Vote: 1, State: StateFollower}))
	require.NoError(t, e.ProcessMsg(3, Message{Term: term, Vote: 4, State: StateFollower}))
	require.NoError(t, e.ProcessMsg(4, Message{Term: term, Vote: 4, State: StateFollower}))

	st := e.Snapshot()
	assert.Equal(t, StateCandidate, st.State, "should not reach quorum with only 2 votes for self")

	// Split vote detected: the candidate's timer was re-armed with only a
	// fresh random shift (0 here), so the next advance starts a new term
	// rather than this one ever reaching quorum.
	vc.Advance(150 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	st2 := e.Snapshot()
	assert.Greater(t, st2.Term, st.Term)
}

func TestPreVoteGatingBlocksElectionWhileLeaderSeen(t *testing.T) {
	// Scenario 5: cluster_size=3, quorum=2. N1 is candidate-eligible; N3
	// reports seeing a leader, so N1 must not start an election.
	e, tr, vc := newTestEngine(t, 1, 3, 2)
	autoCompleteWrites(tr, e)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	require.NoError(t, e.ProcessMsg(3, Message{Term: 5, Vote: 2, State: StateFollower, IsLeaderSeen: true}))

	vc.Advance(150 * time.Millisecond) // would have been an election timeout
	time.Sleep(30 * time.Millisecond)
	st := e.Snapshot()
	assert.Equal(t, StateFollower, st.State)
	assert.Equal(t, uint64(5), st.Term, "term tracked the witnessed term but no election started")

	// N3 now reports the leader is gone: pre-vote gate lifts immediately.
	require.NoError(t, e.ProcessMsg(3, Message{Term: 5, Vote: 2, State: StateFollower, IsLeaderSeen: false}))
	vc.Advance(150 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	st2 := e.Snapshot()
	assert.Equal(t, StateCandidate, st2.State)
}

func TestLeaderResignationStartsImmediateElection(t *testing.T) {
	e, tr, vc := newTestEngine(t, 1, 3, 2)
	autoCompleteWrites(tr, e)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	require.NoError(t, e.ProcessMsg(2, Message{Term: 5, Vote: 2, State: StateLeader, IsLeaderSeen: true}))
	require.Equal(t, types.PeerID(2), e.Snapshot().Leader)

	// Leader 2 explicitly steps down.
	require.NoError(t, e.ProcessMsg(2, Message{Term: 5, Vote: 0, State: StateFollower}))
	vc.Advance(0)
	time.Sleep(30 * time.Millisecond) // let the self-vote write complete asynchronously

	st := e.Snapshot()
	assert.Equal(t, types.PeerID(0), st.Leader)
	assert.Equal(t, StateCandidate, st.State, "candidate node starts a new election immediately on resignation")
}

func TestVoteRejectedForInferiorVClock(t *testing.T) {
	vc := clock.NewVirtual(time.Unix(0, 0))
	tr := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ClusterSize = 3
	cfg.ElectionQuorum = 2
	myClock := vclock.VClock{1: 10}
	brk := events.NewBroker()
	brk.Start()
	defer brk.Stop()
	e := New(cfg, 2, myClock, tr, vc, brk, zerolog.Nop())
	autoCompleteWrites(tr, e)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	inferior := vclock.VClock{1: 3}
	require.NoError(t, e.ProcessMsg(1, Message{Term: 1, Vote: 1, State: StateCandidate, VClock: inferior}))

	st := e.Snapshot()
	assert.Equal(t, types.PeerID(0), st.Vote, "vote withheld: candidate's vclock does not dominate ours")
}

func TestWriteInProgressKeepsFollowerUntilComplete(t *testing.T) {
	e, tr, vc := newTestEngine(t, 1, 3, 2)
	var pendingTerm uint64
	var pendingVote types.PeerID
	held := make(chan struct{}, 1)
	tr.onWrite = func(term uint64, vote types.PeerID) {
		pendingTerm, pendingVote = term, vote
		held <- struct{}{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Close()

	vc.Advance(150 * time.Millisecond) // triggers election -> Write(term=1, vote=1), held
	<-held

	st := e.Snapshot()
	assert.Equal(t, StateFollower, st.State, "stays follower while the vote write is in flight")

	e.WriteComplete()
	_ = pendingTerm
	_ = pendingVote
	st2 := e.Snapshot()
	assert.Equal(t, StateCandidate, st2.State)
}
