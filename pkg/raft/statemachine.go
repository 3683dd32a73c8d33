package raft

import (
	"time"

	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/metrics"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

// processMsgLocked implements spec §4.5's vote reception rules, in
// order. Must run on the owning goroutine.
func (e *Engine) processMsgLocked(source types.PeerID, msg Message) error {
	if msg.Term < e.volatileTerm {
		e.log.Debug().Uint64("term", msg.Term).Msg("ignoring outdated term")
		return nil
	}
	if msg.Term > e.volatileTerm {
		e.bumpTerm(msg.Term)
	}
	e.notifyLeaderSeen(msg.IsLeaderSeen, source)

	if msg.Vote != 0 {
		if e.addVote(source, msg.Vote) {
			e.checkSplitVote()
		}
		switch e.state {
		case StateFollower, StateLeader:
			e.considerVoteRequest(source, msg)
		case StateCandidate:
			e.considerVoteResponse(msg)
		}
	}

	if msg.State != StateLeader {
		if source == e.leader {
			e.log.Info().Uint32("leader", uint32(e.leader)).Msg("leader resigned")
			e.leader = 0
			delete(e.witnessMap, e.self)
			e.timer.Stop()
			e.broadcastPending = true
			e.flushBroadcast()
			if e.cfg.IsCandidate {
				// startElection defers to pending.becomeCandidate if a
				// write is still in flight (spec §4.5's coupling).
				e.startElection()
			}
		}
		return nil
	}

	// msg.State == StateLeader.
	if source == e.leader {
		return nil
	}
	if e.leader != 0 {
		e.log.Warn().Uint32("known", uint32(e.leader)).Uint32("received", uint32(source)).
			Msg("conflicting leader detected in one term")
		return nil
	}
	e.witnessMap[e.self] = true
	e.leaderLastSeen = e.now()
	e.followLeader(source)
	return nil
}

// considerVoteRequest handles an incoming vote declaration while this
// node is a follower or leader (spec §4.5 rule 4).
func (e *Engine) considerVoteRequest(source types.PeerID, msg Message) {
	if !e.cfg.IsEnabled {
		return
	}
	if e.leader != 0 {
		return
	}
	if msg.Vote != source {
		return
	}
	if msg.State != StateCandidate {
		return
	}
	if e.volatileVote != 0 {
		return
	}
	e.tryNewVote(source, msg.Vote, msg.VClock)
}

// considerVoteResponse handles a vote declaration while this node is a
// candidate waiting on its own election (spec §4.5 rule 5).
func (e *Engine) considerVoteResponse(msg Message) {
	if msg.Vote != e.self {
		return
	}
	count := e.voteTally[e.self]
	if count < e.cfg.ElectionQuorum {
		e.log.Info().Int("votes", count).Int("quorum", e.cfg.ElectionQuorum).Msg("accepted vote for self")
		return
	}
	e.becomeLeader()
}

// clearTermState implements spec §3.2's "Transitioning to a new term
// clears vote, leader, witness map, and vote tallies," without itself
// scheduling a persist — callers decide what (if anything) to write.
func (e *Engine) clearTermState(term uint64) {
	e.volatileTerm = term
	e.volatileVote = 0
	e.candidateVClock = nil
	if e.leader == e.self {
		e.leaderLastSeen = e.now()
	}
	e.leader = 0
	e.state = StateFollower
	e.votedFor = make(map[types.PeerID]types.PeerID)
	e.voteTally = make(map[types.PeerID]int)
	e.votedCount = 0
	e.maxVote = 0
	e.witnessMap = make(map[types.PeerID]bool)
	e.broadcastPending = true
}

// bumpTerm handles an externally observed term bump (spec §4.5 rule 2):
// clear state, become follower, persist the bare term with no vote.
func (e *Engine) bumpTerm(term uint64) {
	if e.state == StateCandidate {
		e.recordElectionOutcome("preempted")
	}
	e.clearTermState(term)
	e.scheduleWrite(false)
}

// recordElectionOutcome closes out the metrics for the election this node
// most recently started, if any.
func (e *Engine) recordElectionOutcome(outcome string) {
	if e.electionStartedAt.IsZero() {
		return
	}
	metrics.RaftElectionDuration.Observe(e.now().Sub(e.electionStartedAt).Seconds())
	metrics.RaftElectionsTotal.WithLabelValues(outcome).Inc()
	e.electionStartedAt = time.Time{}
}

// notifyLeaderSeen applies an incoming is_leader_seen bit (spec §4.5's
// leader_witness_map, updated "from every message's is_leader_seen
// field").
func (e *Engine) notifyLeaderSeen(seen bool, source types.PeerID) {
	if e.state == StateLeader {
		return
	}
	if seen {
		e.witnessMap[source] = true
		return
	}
	if e.witnessMap[source] {
		delete(e.witnessMap, source)
		e.rearmTimer()
	}
}

// addVote records that src declared a vote for dst, crediting dst's
// tally. Returns false if src already voted this term (spec's
// "votes[src].did_vote" guard).
func (e *Engine) addVote(src, dst types.PeerID) bool {
	if _, did := e.votedFor[src]; did {
		return false
	}
	e.votedFor[src] = dst
	e.votedCount++
	e.voteTally[dst]++
	if e.voteTally[dst] > e.maxVote {
		e.maxVote = e.voteTally[dst]
	}
	return true
}

// revokeVote undoes this node's own just-scheduled (not yet persisted)
// vote, used by the vclock tie-break revocation (spec §4.5).
func (e *Engine) revokeVote() {
	if e.volatileVote == 0 {
		return
	}
	delete(e.votedFor, e.self)
	e.votedCount--
	target := e.volatileVote
	e.voteTally[target]--
	wasMax := e.voteTally[target]+1 == e.maxVote
	if wasMax {
		e.maxVote = 0
		for _, c := range e.voteTally {
			if c > e.maxVote {
				e.maxVote = c
			}
		}
	}
	e.volatileVote = 0
	e.candidateVClock = nil
}

// hasSplitVote implements spec §4.5's split-vote formula.
func (e *Engine) hasSplitVote() bool {
	voteVac := e.cfg.ClusterSize
	quorum := e.cfg.ElectionQuorum
	if voteVac < quorum {
		return false
	}
	voteVac -= e.votedCount
	if voteVac < 0 {
		return false
	}
	return e.maxVote+voteVac < quorum
}

// checkSplitVote shrinks the candidate's timer to a fresh random shift
// when no candidate can reach quorum this term (spec §4.5).
func (e *Engine) checkSplitVote() {
	if e.state == StateLeader || e.leader != 0 {
		return
	}
	if !e.hasSplitVote() {
		return
	}
	metrics.RaftSplitVotesTotal.Inc()
	if e.brk != nil {
		e.brk.Publish(&events.Event{Type: EventSplitVote, Message: "split vote detected"})
	}
	e.log.Info().Uint64("term", e.volatileTerm).Msg("split vote detected, shrinking timer")
	if e.state == StateCandidate {
		e.armTimer(e.randomShift())
	}
}

// tryNewVote grants a vote for candidateID if its vclock dominates ours
// (spec §4.5's "vclock-based tie-break"), then schedules persistence.
func (e *Engine) tryNewVote(candidateID, declaredVote types.PeerID, candidateVClock vclock.VClock) {
	if !vclock.GreaterOrEqual(candidateVClock, e.vclk) {
		e.log.Info().Uint32("candidate", uint32(candidateID)).Msg("vote request rejected: inferior vclock")
		return
	}
	e.volatileVote = declaredVote
	e.candidateVClock = candidateVClock.Clone()
	e.addVote(e.self, declaredVote)
	e.scheduleWrite(false)
}

// startElection bumps the term and votes for self (spec §4.5 "Election"),
// provided this node is both enabled and configured as a candidate.
func (e *Engine) startElection() {
	if !e.cfg.IsEnabled || !e.cfg.IsCandidate {
		return
	}
	e.startElectionForced()
}

// startElectionForced is startElection without the is_candidate gate, used
// by Promote (spec §4.5's raft_promote: forces candidacy regardless of
// configuration). If a WAL write is already in flight for unrelated
// volatile state, the request is deferred and replayed once that write
// settles, rather than folded into its outcome (spec's open question #3
// keeps these two WAL writes distinct instead of conflating them).
func (e *Engine) startElectionForced() {
	if e.isWriteInProgress {
		e.electionRequested = true
		return
	}
	if e.state == StateCandidate {
		e.recordElectionOutcome("split_vote")
	}
	e.clearTermState(e.volatileTerm + 1)
	e.volatileVote = e.self
	e.candidateVClock = e.vclk.Clone()
	e.addVote(e.self, e.self)
	e.scheduleWrite(true)
}

// scheduleWrite hands {term, vote} to the WAL upcall. If this node is
// mid-vote for a candidate whose vclock no longer dominates ours (it
// advanced since the vote was granted), the vote is revoked before being
// written (spec §4.5: "the vote is revoked before being written").
func (e *Engine) scheduleWrite(becomeCandidate bool) {
	if e.volatileVote != 0 && e.volatileVote != e.self && e.candidateVClock != nil {
		if !vclock.GreaterOrEqual(e.candidateVClock, e.vclk) {
			e.log.Info().Uint32("candidate", uint32(e.volatileVote)).Msg("revoking vote: vclock no longer sufficient")
			e.revokeVote()
		}
	}
	e.isWriteInProgress = true
	e.pending = &pendingWrite{term: e.volatileTerm, vote: e.volatileVote, becomeCandidate: becomeCandidate}
	e.trans.Write(e.pending.term, e.pending.vote)
	e.rearmTimer()
}

// writeCompleteLocked applies a finished WAL write (spec §4.5's
// process_async): the persisted pair catches up, and only now may the
// node become a candidate or leader based on what it wrote.
func (e *Engine) writeCompleteLocked() {
	if e.pending == nil {
		return
	}
	p := e.pending
	e.pending = nil
	e.isWriteInProgress = false
	e.term = p.term
	e.vote = p.vote

	if p.becomeCandidate && p.vote == e.self && p.term == e.volatileTerm {
		e.state = StateCandidate
		e.electionStartedAt = e.now()
		e.broadcastCandidacy()
		e.armTimer(e.cfg.ElectionTimeout + e.randomShift())
		e.checkSplitVote()
	} else {
		e.rearmTimer()
	}
	e.flushBroadcast()

	if e.electionRequested && !e.isWriteInProgress {
		e.electionRequested = false
		e.startElectionForced()
	}
}

func (e *Engine) becomeLeader() {
	e.recordElectionOutcome("won")
	e.state = StateLeader
	e.leader = e.self
	e.timer.Stop()
	e.broadcastPending = true
	e.flushBroadcast()
	if e.brk != nil {
		e.brk.Publish(&events.Event{Type: EventElectionResult, Message: "elected leader"})
	}
	e.publishUpdate()
}

func (e *Engine) followLeader(source types.PeerID) {
	if e.state == StateCandidate {
		e.recordElectionOutcome("lost")
	}
	e.state = StateFollower
	e.leader = source
	if !e.isWriteInProgress && e.cfg.IsEnabled {
		e.armTimer(e.cfg.DeathTimeout)
	}
	e.broadcastPending = true
	e.flushBroadcast()
	if e.brk != nil {
		e.brk.Publish(&events.Event{Type: EventElectionResult, Message: "following leader"})
	}
	e.publishUpdate()
}

func (e *Engine) resignLeadership() {
	e.leaderLastSeen = e.now()
	e.leader = 0
	delete(e.witnessMap, e.self)
	e.broadcastPending = true
}

func (e *Engine) broadcastCandidacy() {
	e.trans.Broadcast(Message{
		Term:         e.volatileTerm,
		Vote:         e.self,
		State:        StateCandidate,
		LeaderID:     e.leader,
		IsLeaderSeen: e.witnessMap[e.self],
		VClock:       e.vclk.Clone(),
	})
}

// flushBroadcast coalesces multiple state changes made within one
// scheduler turn into a single outbound message (spec §4.5's
// "Broadcasting happens asynchronously... multiple updates coalesce").
func (e *Engine) flushBroadcast() {
	if !e.broadcastPending {
		return
	}
	e.broadcastPending = false
	msg := Message{
		Term:         e.term,
		Vote:         e.vote,
		State:        e.state,
		LeaderID:     e.leader,
		IsLeaderSeen: e.witnessMap[e.self],
	}
	if e.state == StateCandidate {
		msg.VClock = e.vclk.Clone()
	}
	e.trans.Broadcast(msg)
	e.publishUpdate()
}

// isCandidateEligible reports whether this node may start an election.
func (e *Engine) isCandidateEligible() bool {
	return e.cfg.IsEnabled && e.cfg.IsCandidate
}

// rearmTimer re-derives which timer (if any) should be running from the
// current state, following spec §4.5's timer table exactly.
func (e *Engine) rearmTimer() {
	if e.isWriteInProgress {
		e.timer.Stop()
		return
	}
	switch e.state {
	case StateLeader:
		e.timer.Stop()
	case StateCandidate:
		e.armTimer(e.cfg.ElectionTimeout + e.randomShift())
	case StateFollower:
		switch {
		case e.leader != 0:
			e.armTimer(e.cfg.DeathTimeout)
		case e.isCandidateEligible() && len(e.witnessMap) == 0:
			e.armTimer(e.cfg.ElectionTimeout + e.randomShift())
		default:
			// Either not a candidate, or some peer still sees a
			// leader: wait passively (spec §4.5 pre-vote gating).
			e.timer.Stop()
		}
	}
}

func (e *Engine) armTimer(d time.Duration) {
	if d <= 0 {
		d = time.Nanosecond
	}
	e.timer.Stop()
	e.timer.Reset(d)
}

// onTimerFire reacts to the single timer the engine ever runs, per spec
// §4.5's four timer cases.
func (e *Engine) onTimerFire() {
	switch e.state {
	case StateFollower:
		if e.leader != 0 {
			// Leader presumed dead: clear it and fall through to
			// either passive waiting or a fresh election timeout.
			e.leader = 0
			delete(e.witnessMap, e.self)
			e.broadcastPending = true
			e.flushBroadcast()
			e.rearmTimer()
			return
		}
		if e.isCandidateEligible() {
			e.startElection()
		}
	case StateCandidate:
		e.startElection()
	case StateLeader:
		// Should never have an active timer; defensively ignore.
	}
}

// adjustTimer re-arms the timer after a live timeout reconfiguration by
// re-deriving it from the current state under the new configuration. A
// running wait restarts with a full fresh timeout; the time already
// waited is not carried over.
func (e *Engine) adjustTimer(oldTimeout, newTimeout time.Duration) {
	if e.isWriteInProgress {
		return
	}
	// Without a running-timer deadline API we approximate by simply
	// re-deriving the correct timer for the current state under the new
	// configuration, which covers every case this engine's rearmTimer
	// branches can reach (leader: none; candidate/election-wait:
	// re-randomized fresh timeout; death-wait: fresh death timeout).
	_ = oldTimeout
	_ = newTimeout
	e.rearmTimer()
}
