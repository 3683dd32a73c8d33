package swim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tarantool/dbcore/pkg/clock"
	"github.com/tarantool/dbcore/pkg/events"
	"github.com/tarantool/dbcore/pkg/metrics"
	"github.com/tarantool/dbcore/pkg/swimwire"
	"github.com/tarantool/dbcore/pkg/types"
)

type probePhase int

const (
	phaseNone probePhase = iota
	phaseDirect
	phaseIndirect
)

type pendingProbe struct {
	target    uuid.UUID
	phase     probePhase
	startedAt time.Time
}

// Engine is one SWIM node: it owns a member table, a clock, and a
// transport, and drives round-robin failure detection and dissemination
// from a single goroutine.
type Engine struct {
	cfg       Config
	clock     clock.Clock
	transport Transport
	broker    *events.Broker
	log       zerolog.Logger

	self     *Member
	selfAddr types.Addr

	tbl *table

	pending *pendingProbe

	cmdCh   chan func()
	recvCh  chan recvResult
	closeCh chan struct{}
	closed  bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

type recvResult struct {
	data []byte
	src  types.Addr
}

// Config wiring for the constructor.
type EngineConfig struct {
	Config    Config
	Clock     clock.Clock
	Transport Transport
	Broker    *events.Broker
	Logger    zerolog.Logger
	SelfUUID  uuid.UUID
	Payload   []byte
}

// New constructs an Engine bound to the given transport's local address.
func New(ec EngineConfig) *Engine {
	self := &Member{
		UUID:        ec.SelfUUID,
		Addr:        ec.Transport.LocalAddr(),
		Status:      StatusAlive,
		Incarnation: Incarnation{Generation: 1, Version: 1},
		Payload:     ec.Payload,
	}
	e := &Engine{
		cfg:       ec.Config,
		clock:     ec.Clock,
		transport: ec.Transport,
		broker:    ec.Broker,
		log:       ec.Logger.With().Str("component", "swim").Logger(),
		self:      self,
		selfAddr:  ec.Transport.LocalAddr(),
		tbl:       newTable(),
		cmdCh:     make(chan func()),
		recvCh:    make(chan recvResult, 64),
		closeCh:   make(chan struct{}),
	}
	e.tbl.upsert(self.UUID, self.Addr, self.Status, self.Incarnation, self.Payload)
	return e
}

// Start launches the receive loop and the engine's owning goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.recvLoop(ctx)
	go e.run(ctx)
}

// Close stops the engine and releases its transport.
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
	return e.transport.Close()
}

func (e *Engine) recvLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		data, src, err := e.transport.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-e.closeCh:
				return
			default:
				e.log.Debug().Err(err).Msg("recv error")
				continue
			}
		}
		select {
		case e.recvCh <- recvResult{data: data, src: src}:
		case <-ctx.Done():
			return
		case <-e.closeCh:
			return
		}
	}
}

// AddMember injects a known peer into the table synchronously with the
// engine's owning goroutine (spec §9's "commands posted over a channel").
func (e *Engine) AddMember(addr types.Addr, id uuid.UUID) {
	e.do(func() {
		e.tbl.upsert(id, addr, StatusAlive, Incarnation{Generation: 1, Version: 1}, nil)
	})
}

// Snapshot returns a point-in-time copy of every known member.
func (e *Engine) Snapshot() []*Member {
	var out []*Member
	done := make(chan struct{})
	e.do(func() {
		for _, m := range e.tbl.all() {
			out = append(out, m.Clone())
		}
		close(done)
	})
	<-done
	return out
}

// Leave marks the local member as Left and gossips it, per spec §4.1's
// graceful-leave path.
func (e *Engine) Leave() {
	done := make(chan struct{})
	e.do(func() {
		e.self.Incarnation.Version++
		e.self.Status = StatusLeft
		e.self.ttd = e.ttdBudget()
		e.tbl.upsert(e.self.UUID, e.self.Addr, StatusLeft, e.self.Incarnation, e.self.Payload)
		close(done)
	})
	<-done
}

// do runs fn on the engine's owning goroutine and blocks until it has been
// scheduled (not necessarily completed, unless fn itself signals).
func (e *Engine) do(fn func()) {
	select {
	case e.cmdCh <- fn:
	case <-e.closeCh:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	roundTimer := e.clock.NewTimer(e.cfg.ProbeInterval)
	defer roundTimer.Stop()
	ackTimer := e.clock.NewTimer(e.cfg.ProbeInterval)
	ackTimer.Stop()
	defer ackTimer.Stop()
	aeTimer := e.clock.NewTimer(e.cfg.AntiEntropyInterval)
	defer aeTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.closeCh:
			return
		case fn := <-e.cmdCh:
			fn()
		case r := <-e.recvCh:
			e.handlePacket(r.data, r.src)
		case <-roundTimer.C():
			e.startRound(ackTimer)
			roundTimer.Reset(e.cfg.ProbeInterval)
		case <-ackTimer.C():
			e.onAckTimeout(ackTimer)
		case <-aeTimer.C():
			e.doAntiEntropy()
			aeTimer.Reset(e.cfg.AntiEntropyInterval)
		}
	}
}

func (e *Engine) ttdBudget() int {
	return ttdRounds(e.tbl.len(), e.cfg.TTDMultiplier)
}

func (e *Engine) startRound(ackTimer clock.Timer) {
	if e.pending != nil {
		// Previous round never resolved (shouldn't happen given our
		// single-outstanding-probe design, but don't wedge the engine).
		e.pending = nil
	}
	target := e.tbl.nextProbeTarget(e.self.UUID)
	if target == nil {
		return
	}
	e.pending = &pendingProbe{target: target.UUID, phase: phaseDirect, startedAt: e.clock.Now()}
	e.sendFD(swimwire.FDPing, target.Addr, nil)
	ackTimer.Reset(e.cfg.AckTimeout)
}

func (e *Engine) onAckTimeout(ackTimer clock.Timer) {
	if e.pending == nil {
		return
	}
	switch e.pending.phase {
	case phaseDirect:
		target := e.tbl.get(e.pending.target)
		if target == nil {
			e.pending = nil
			return
		}
		relays := e.tbl.randomSample(e.self.UUID, e.cfg.IndirectFanout)
		relays = excludeUUID(relays, target.UUID)
		if len(relays) == 0 {
			e.concludeFailedProbe(e.pending.target)
			metrics.SWIMRoundDuration.Observe(e.clock.Now().Sub(e.pending.startedAt).Seconds())
			e.pending = nil
			return
		}
		for _, r := range relays {
			route := &swimwire.Route{
				SrcAddr: e.selfAddr.IP,
				SrcPort: e.selfAddr.Port,
				DstAddr: target.Addr.IP,
				DstPort: target.Addr.Port,
			}
			e.sendFD(swimwire.FDPing, r.Addr, route)
		}
		e.pending.phase = phaseIndirect
		ackTimer.Reset(e.cfg.AckTimeout)
	case phaseIndirect:
		e.concludeFailedProbe(e.pending.target)
		metrics.SWIMRoundDuration.Observe(e.clock.Now().Sub(e.pending.startedAt).Seconds())
		e.pending = nil
	}
}

func excludeUUID(members []*Member, id uuid.UUID) []*Member {
	out := members[:0]
	for _, m := range members {
		if m.UUID != id {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) concludeFailedProbe(id uuid.UUID) {
	m := e.tbl.get(id)
	if m == nil {
		return
	}
	switch m.Status {
	case StatusAlive:
		m.Status = StatusSuspected
		m.unackedRounds = 0
		m.ttd = e.ttdBudget()
		metrics.SWIMSuspectsTotal.Inc()
		e.publish(EventMemberSuspected, m)
	case StatusSuspected:
		m.unackedRounds++
		if m.unackedRounds >= e.cfg.SuspectTimeoutRounds {
			m.Status = StatusDead
			m.ttd = DeadRemovalRounds(e.tbl.len())
			e.publish(EventMemberDead, m)
		}
	}
}

func (e *Engine) doAntiEntropy() {
	peers := e.tbl.randomSample(e.self.UUID, 1)
	if len(peers) == 0 {
		return
	}
	peer := peers[0]
	sample := e.tbl.randomSample(e.self.UUID, e.cfg.AntiEntropySampleSize)
	records := make([]swimwire.MemberRecord, 0, len(sample)+1)
	records = append(records, e.memberRecord(e.self))
	for _, m := range sample {
		records = append(records, e.memberRecord(m))
	}
	pkt := &swimwire.Packet{
		Meta: swimwire.Meta{
			Version: swimwire.ProtocolVersion,
			SrcAddr: e.selfAddr.IP,
			SrcPort: e.selfAddr.Port,
		},
		SrcUUID:     e.self.UUID,
		AntiEntropy: records,
	}
	e.sendPacket(pkt, peer.Addr)
}

func (e *Engine) memberRecord(m *Member) swimwire.MemberRecord {
	return swimwire.MemberRecord{
		Status:     swimwire.MemberStatus(m.Status),
		Address:    m.Addr.IP,
		Port:       m.Addr.Port,
		UUID:       m.UUID,
		Generation: m.Incarnation.Generation,
		Version:    m.Incarnation.Version,
		Payload:    m.Payload,
	}
}

// sendFD sends a failure-detection (ping/ack) packet, piggybacking
// whatever dissemination backlog currently has budget.
func (e *Engine) sendFD(typ swimwire.FDMsgType, dst types.Addr, route *swimwire.Route) {
	pkt := &swimwire.Packet{
		Meta: swimwire.Meta{
			Version: swimwire.ProtocolVersion,
			SrcAddr: e.selfAddr.IP,
			SrcPort: e.selfAddr.Port,
			Route:   route,
		},
		SrcUUID: e.self.UUID,
		FD: &swimwire.FailureDetection{
			Type:       typ,
			Generation: e.self.Incarnation.Generation,
			Version:    e.self.Incarnation.Version,
		},
		Dissemination: e.disseminationBacklog(),
	}
	e.sendPacket(pkt, dst)
}

// disseminationBacklog collects members whose status claim still has TTD
// budget, decrementing each by one round (spec §4.1 TTD bookkeeping).
// Exhausted entries (ttd<=0) stop riding dissemination; Dead members past
// their removal budget are dropped from the table entirely.
func (e *Engine) disseminationBacklog() []swimwire.MemberRecord {
	var out []swimwire.MemberRecord
	for _, m := range e.tbl.all() {
		if m.ttd <= 0 {
			if m.Status == StatusDead {
				e.tbl.remove(m.UUID)
				e.publish(EventMemberRemoved, m)
			}
			continue
		}
		out = append(out, e.memberRecord(m))
		m.ttd--
	}
	return out
}

func (e *Engine) sendPacket(pkt *swimwire.Packet, dst types.Addr) {
	data, err := swimwire.EncodeBudgeted(pkt, e.cfg.MaxPacketSize)
	if err != nil {
		e.log.Warn().Err(err).Msg("encode failed")
		return
	}
	if err := e.transport.Send(data, dst); err != nil {
		e.log.Debug().Err(err).Str("dst", dst.String()).Msg("send failed")
	}
}

func (e *Engine) handlePacket(data []byte, wireSrc types.Addr) {
	pkt, err := swimwire.Decode(data)
	if err != nil {
		e.log.Debug().Err(err).Msg("dropping malformed packet")
		return
	}

	senderAddr := types.Addr{IP: pkt.Meta.SrcAddr, Port: pkt.Meta.SrcPort}
	if senderAddr.IsZero() {
		senderAddr = wireSrc
	}

	for _, rec := range pkt.Dissemination {
		e.applyMemberRecord(rec)
	}
	for _, rec := range pkt.AntiEntropy {
		e.applyMemberRecord(rec)
	}

	if pkt.FD != nil {
		e.handleFD(pkt, senderAddr, wireSrc)
	}
	if pkt.Quit != nil {
		e.applyClaim(pkt.SrcUUID, senderAddr, StatusLeft, Incarnation{Generation: pkt.Quit.Generation, Version: pkt.Quit.Version}, nil)
	}
}

func (e *Engine) handleFD(pkt *swimwire.Packet, senderAddr, wireSrc types.Addr) {
	fd := pkt.FD
	inc := Incarnation{Generation: fd.Generation, Version: fd.Version}
	e.applyClaim(pkt.SrcUUID, senderAddr, StatusAlive, inc, nil)

	switch fd.Type {
	case swimwire.FDPing:
		route := pkt.Meta.Route
		if route != nil {
			dst := types.Addr{IP: route.DstAddr, Port: route.DstPort}
			if dst != e.selfAddr {
				// We're the relay: forward verbatim toward the real
				// target.
				if enc, encErr := swimwire.Encode(pkt); encErr == nil {
					if sendErr := e.transport.Send(enc, dst); sendErr != nil {
						e.log.Debug().Err(sendErr).Msg("relay forward failed")
					}
				}
				return
			}
		}
		// Ping addressed to us, possibly relayed: ack straight back to
		// whoever is logically waiting (route's original src, if any).
		replyTo := wireSrc
		if route != nil {
			replyTo = types.Addr{IP: route.SrcAddr, Port: route.SrcPort}
		}
		e.sendFD(swimwire.FDAck, replyTo, nil)
	case swimwire.FDAck:
		if e.pending != nil && e.pending.target == pkt.SrcUUID {
			metrics.SWIMRoundDuration.Observe(e.clock.Now().Sub(e.pending.startedAt).Seconds())
			e.pending = nil
		}
	}
}

// applyMemberRecord applies one dissemination/anti-entropy entry,
// including self-refutation when the record claims the local member is
// no longer Alive.
func (e *Engine) applyMemberRecord(rec swimwire.MemberRecord) {
	addr := types.Addr{IP: rec.Address, Port: rec.Port}
	status := Status(rec.Status)
	inc := Incarnation{Generation: rec.Generation, Version: rec.Version}
	e.applyClaim(rec.UUID, addr, status, inc, rec.Payload)
}

func (e *Engine) applyClaim(id uuid.UUID, addr types.Addr, status Status, inc Incarnation, payload []byte) {
	if id == e.self.UUID {
		if status != StatusAlive && !inc.Less(e.self.Incarnation) {
			// We're being reported as not alive with an incarnation at
			// least as new as ours: refute by bumping our own version
			// and re-asserting Alive (spec §4.1 refutation).
			e.self.Incarnation.Version = inc.Version + 1
			e.self.ttd = e.ttdBudget()
			e.tbl.upsert(e.self.UUID, e.self.Addr, StatusAlive, e.self.Incarnation, e.self.Payload)
			metrics.SWIMRefutationsTotal.Inc()
			e.publish(EventMemberRefuted, e.self)
		}
		return
	}
	before := e.tbl.get(id)
	wasKnown := before != nil
	m, changed := e.tbl.upsert(id, addr, status, inc, payload)
	if m == nil {
		return
	}
	if !changed {
		return
	}
	if !wasKnown {
		m.ttd = e.ttdBudget()
		e.publish(EventMemberJoined, m)
		return
	}
	switch m.Status {
	case StatusSuspected:
		m.ttd = e.ttdBudget()
		metrics.SWIMSuspectsTotal.Inc()
		e.publish(EventMemberSuspected, m)
	case StatusDead:
		m.ttd = DeadRemovalRounds(e.tbl.len())
		e.publish(EventMemberDead, m)
	case StatusLeft:
		m.ttd = e.ttdBudget()
		e.publish(EventMemberLeft, m)
	case StatusAlive:
		m.ttd = e.ttdBudget()
	}
}

func (e *Engine) publish(t events.Type, m *Member) {
	e.refreshMemberGauges()
	if e.broker == nil {
		return
	}
	e.broker.Publish(&events.Event{
		Type:    t,
		Message: fmt.Sprintf("%s %s", m.UUID, t),
		Metadata: map[string]string{
			"uuid":   m.UUID.String(),
			"addr":   m.Addr.String(),
			"status": m.Status.String(),
		},
	})
}

// refreshMemberGauges recomputes dbcore_swim_members_total from the
// table. Called at every status-changing event rather than per round:
// members_total is typically read far less often than it would change.
func (e *Engine) refreshMemberGauges() {
	var counts [StatusLeft + 1]int
	for _, m := range e.tbl.all() {
		counts[m.Status]++
	}
	for s := StatusAlive; s <= StatusLeft; s++ {
		metrics.SWIMMembersTotal.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}
