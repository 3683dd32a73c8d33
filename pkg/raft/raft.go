package raft

import (
	"context"
	"math/rand"
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

// pendingWrite is the {term, vote} pair currently in flight to the WAL
// (spec §4.5's "WAL-write coupling"): the engine stays a follower no
// matter what the volatile state says until this resolves.
type pendingWrite struct {
	term            uint64
	vote            types.PeerID
	becomeCandidate bool
}

// Engine is one Raft node. It owns the term/vote/state machine and drives
// it from a single goroutine; all exported mutators post a closure onto
// that goroutine and block until it has run, the same shape pkg/swim's
// Engine uses.
type Engine struct {
	cfg   Config
	self  types.PeerID
	vclk  vclock.VClock // borrowed, never owned (spec §5)
	trans Transport
	clk   clock.Clock
	brk   *events.Broker
	log   zerolog.Logger

	instanceIDSet bool

	// persisted state, mirrors what's on disk.
	term uint64
	vote types.PeerID

	// volatile state: scheduled but possibly not yet durable.
	volatileTerm uint64
	volatileVote types.PeerID

	state          State
	leader         types.PeerID
	leaderLastSeen time.Time

	electionStartedAt time.Time

	isWriteInProgress bool
	pending           *pendingWrite
	electionRequested bool
	broadcastPending  bool

	witnessMap map[types.PeerID]bool

	votedFor   map[types.PeerID]types.PeerID // src -> who src voted for, this term
	voteTally  map[types.PeerID]int          // candidate -> vote count seen
	votedCount int
	maxVote    int

	candidateVClock vclock.VClock // vclock offered by the candidate we last voted for

	timer   clock.Timer
	cmdCh   chan func()
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// New constructs an Engine. vclk must outlive the Engine (spec §5:
// "borrowed, never owned").
func New(cfg Config, self types.PeerID, vclk vclock.VClock, trans Transport, clk clock.Clock, brk *events.Broker, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		self:       self,
		vclk:       vclk,
		trans:      trans,
		clk:        clk,
		brk:        brk,
		log:        logger.With().Str("component", "raft").Logger(),
		state:      StateFollower,
		witnessMap: make(map[types.PeerID]bool),
		votedFor:   make(map[types.PeerID]types.PeerID),
		voteTally:  make(map[types.PeerID]int),
		cmdCh:      make(chan func()),
		closeCh:    make(chan struct{}),
	}
}

// Restore replays persisted {term, vote} records before Start is called
// (spec §6: "Recovery replays them in order; last wins"). Must not be
// called once the instance ID is assigned or the engine is running.
func (e *Engine) Restore(records []Record) {
	for _, r := range records {
		if r.Term != 0 {
			e.term = r.Term
			e.volatileTerm = r.Term
		}
		if r.Vote != 0 {
			e.vote = r.Vote
			e.volatileVote = r.Vote
		}
	}
}

// Record is the minimal persisted shape Restore expects; pkg/raftlog's
// Record satisfies it structurally via the caller's own conversion.
type Record struct {
	Term uint64
	Vote types.PeerID
}

// Start launches the engine's owning goroutine. Raft only becomes active
// once Cfg.IsEnabled is true; a disabled Engine still answers Snapshot.
func (e *Engine) Start(ctx context.Context) {
	e.timer = e.clk.NewTimer(e.cfg.ElectionTimeout)
	e.timer.Stop()
	e.wg.Add(1)
	go e.run(ctx)
	e.do(func() { e.rearmTimer() })
}

// Close stops the engine. Any WAL write already in flight is assumed to
// be completed by the external system; its WriteComplete callback
// becomes a no-op because the instance is gone (spec §5).
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	close(e.closeCh)
	e.wg.Wait()
	if e.timer != nil {
		e.timer.Stop()
	}
	return nil
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closeCh:
			return
		case fn := <-e.cmdCh:
			fn()
		case <-e.timer.C():
			e.onTimerFire()
		}
	}
}

func (e *Engine) do(fn func()) {
	select {
	case e.cmdCh <- fn:
	case <-e.closeCh:
	}
}

// doSync runs fn on the owning goroutine and blocks until it returns.
func (e *Engine) doSync(fn func()) {
	done := make(chan struct{})
	e.do(func() {
		fn()
		close(done)
	})
	<-done
}

// Status is a point-in-time read of every externally visible attribute
// (spec §3.2's "Derived state").
type Status struct {
	Term           uint64
	Vote           types.PeerID
	State          State
	Leader         types.PeerID
	VoteCount      int
	ClusterSize    int
	ElectionQuorum int
	LeaderLastSeen time.Time
}

// Snapshot reads the engine's current externally visible state.
func (e *Engine) Snapshot() Status {
	var st Status
	e.doSync(func() {
		st = Status{
			Term:           e.term,
			Vote:           e.vote,
			State:          e.state,
			Leader:         e.leader,
			VoteCount:      e.voteTally[e.self],
			ClusterSize:    e.cfg.ClusterSize,
			ElectionQuorum: e.cfg.ElectionQuorum,
			LeaderLastSeen: e.leaderLastSeen,
		}
	})
	return st
}

// ProcessMsg handles an incoming vote/state message from a peer (spec
// §4.5's "Vote reception rules"). Returns a *ProtocolError for malformed
// messages; a message with an outdated term is silently ignored, per
// spec rule 1.
func (e *Engine) ProcessMsg(source types.PeerID, msg Message) error {
	if msg.Term == 0 || msg.State == 0 {
		return protoErr(ErrKindInvalidMessage, "term and state are mandatory")
	}
	if msg.State == StateCandidate && (msg.Vote != source || msg.VClock == nil) {
		return protoErr(ErrKindInvalidMessage, "candidate must vote for self and provide its vclock")
	}
	var resultErr error
	e.doSync(func() {
		resultErr = e.processMsgLocked(source, msg)
	})
	return resultErr
}

// ProcessHeartbeat records that source (the known leader) is still alive,
// without touching term/vote state (spec §4.5: "Heartbeats still update
// leader_last_seen but the election timer is not reset" while a write is
// in progress).
func (e *Engine) ProcessHeartbeat(source types.PeerID) {
	e.do(func() {
		if source == 0 || !e.cfg.IsEnabled || e.state == StateLeader || e.leader != source {
			return
		}
		e.leaderLastSeen = e.now()
		if e.isWriteInProgress {
			return
		}
		e.witnessMap[e.self] = true
		e.rearmTimer()
	})
}

// WriteComplete reports that the {term, vote} pair last given to
// Transport.Write is now durable (spec §4.5's "process_async" callback).
func (e *Engine) WriteComplete() {
	e.do(func() { e.writeCompleteLocked() })
}

// Promote forces a new term and candidacy regardless of the configured
// is_candidate flag, as long as the engine is enabled (spec §4.5's
// raft_promote translation).
func (e *Engine) Promote() {
	e.do(func() {
		if !e.cfg.IsEnabled {
			return
		}
		e.cfg.IsCandidate = true
		e.startElectionForced()
	})
}

// SetEnabled toggles the master switch (spec §4.5 Configuration surface).
func (e *Engine) SetEnabled(on bool) {
	e.do(func() {
		if e.cfg.IsEnabled == on {
			return
		}
		e.cfg.IsEnabled = on
		if !on && e.state == StateLeader {
			e.resignLeadership()
		}
		if !on {
			e.state = StateFollower
		}
		e.rearmTimer()
		e.flushBroadcast()
		e.publishUpdate()
	})
}

// SetCandidate toggles whether this node may become leader.
func (e *Engine) SetCandidate(on bool) {
	e.do(func() {
		e.cfg.IsCandidate = on
		if !e.isWriteInProgress {
			e.rearmTimer()
		}
	})
}

// SetElectionTimeout reconfigures the election timeout and re-arms the
// timer from the current state (see adjustTimer); the remaining wait time
// of a running timer is not preserved.
func (e *Engine) SetElectionTimeout(d time.Duration) {
	e.do(func() {
		old := e.cfg.ElectionTimeout
		e.cfg.ElectionTimeout = d
		e.adjustTimer(old, d)
	})
}

// SetDeathTimeout reconfigures the leader-death timeout.
func (e *Engine) SetDeathTimeout(d time.Duration) {
	e.do(func() {
		old := e.cfg.DeathTimeout
		e.cfg.DeathTimeout = d
		e.adjustTimer(old, d)
	})
}

// SetElectionQuorum reconfigures the election quorum; may trigger an
// immediate leadership transition if this node already has enough votes
// for the lowered quorum (spec §4.5).
func (e *Engine) SetElectionQuorum(n int) {
	e.do(func() {
		e.cfg.ElectionQuorum = n
		if e.state == StateCandidate && e.voteTally[e.self] >= n {
			e.becomeLeader()
		}
	})
}

// SetClusterSize reconfigures the voting cluster size used by split-vote
// detection.
func (e *Engine) SetClusterSize(n int) {
	e.do(func() { e.cfg.ClusterSize = n })
}

// SetInstanceID assigns this node's peer id. Write-once: subsequent calls
// are ignored (spec §4.5: "instance_id (write-once after first
// assignment)").
func (e *Engine) SetInstanceID(id types.PeerID) {
	e.do(func() {
		if e.instanceIDSet {
			return
		}
		e.self = id
		e.instanceIDSet = true
	})
}

func (e *Engine) now() time.Time { return e.clk.Now() }

func (e *Engine) publishUpdate() {
	if e.brk == nil {
		return
	}
	e.brk.Publish(&events.Event{
		Type:    EventUpdate,
		Message: e.state.String(),
		Metadata: map[string]string{
			"term":   strconv.FormatUint(e.term, 10),
			"state":  e.state.String(),
			"leader": strconv.FormatUint(uint64(e.leader), 10),
		},
	})
	metrics.RaftTerm.Set(float64(e.term))
	if e.state == StateLeader {
		metrics.RaftIsLeader.Set(1)
	} else {
		metrics.RaftIsLeader.Set(0)
	}
}

func (e *Engine) randomShift() time.Duration {
	if e.cfg.MaxShift <= 0 {
		return 0
	}
	maxNanos := float64(e.cfg.ElectionTimeout) * e.cfg.MaxShift
	if maxNanos <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(maxNanos) + 1))
}
