package raftnet

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/raftlog"
	"github.com/tarantool/dbcore/pkg/swimnet"
	"github.com/tarantool/dbcore/pkg/types"
)

// Transport is the UDP-backed raft.Transport: Broadcast fans a Message
// out to every known peer, and Write appends {term, vote} to the WAL
// before reporting completion back asynchronously (spec §4.5's
// process_async). It also runs the recv loop that feeds incoming packets
// back into the attached Engine, and sends (via SendHeartbeat, which the
// daemon calls on a timer) the heartbeat the leader uses to keep
// followers' leader_last_seen fresh between state transitions (see
// wire.go's packetKind doc comment).
type Transport struct {
	udp  *swimnet.UDPTransport
	self types.PeerID
	wal  *raftlog.Log
	log  zerolog.Logger

	mu     sync.RWMutex
	peers  map[types.PeerID]types.Addr
	engine *raft.Engine

	closeCh chan struct{}
	wg      sync.WaitGroup
}

// Bind opens the UDP socket the transport broadcasts and listens on.
func Bind(addr types.Addr, self types.PeerID, wal *raftlog.Log, logger zerolog.Logger) (*Transport, error) {
	udp, err := swimnet.Bind(addr)
	if err != nil {
		return nil, err
	}
	return &Transport{
		udp:     udp,
		self:    self,
		wal:     wal,
		log:     logger.With().Str("component", "raftnet").Logger(),
		peers:   make(map[types.PeerID]types.Addr),
		closeCh: make(chan struct{}),
	}, nil
}

// SetPeers replaces the broadcast fanout list. Safe to call concurrently
// with Broadcast/SendHeartbeat.
func (t *Transport) SetPeers(peers map[types.PeerID]types.Addr) {
	cp := make(map[types.PeerID]types.Addr, len(peers))
	for id, addr := range peers {
		cp[id] = addr
	}
	t.mu.Lock()
	t.peers = cp
	t.mu.Unlock()
}

// SetEngine attaches the Engine incoming packets are dispatched to. Must
// be called before Start; the constructor can't take it directly since
// raft.New itself requires a Transport.
func (t *Transport) SetEngine(e *raft.Engine) {
	t.engine = e
}

// LocalAddr reports the bound address.
func (t *Transport) LocalAddr() types.Addr { return t.udp.LocalAddr() }

// Start launches the recv loop in the background.
func (t *Transport) Start(ctx context.Context) {
	t.wg.Add(1)
	go t.recvLoop(ctx)
}

// Close releases the socket and waits for the recv loop to exit.
func (t *Transport) Close() error {
	close(t.closeCh)
	err := t.udp.Close()
	t.wg.Wait()
	return err
}

func (t *Transport) recvLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		data, _, err := t.udp.Recv(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-t.closeCh:
				return
			default:
				t.log.Warn().Err(err).Msg("recv failed")
				continue
			}
		}
		pkt, err := decodePacket(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping malformed packet")
			continue
		}
		if t.engine == nil {
			continue
		}
		if pkt.heartbeat {
			t.engine.ProcessHeartbeat(pkt.src)
			continue
		}
		if err := t.engine.ProcessMsg(pkt.src, pkt.msg); err != nil {
			t.log.Warn().Err(err).Uint32("source", uint32(pkt.src)).Msg("rejected message")
		}
	}
}

// Broadcast implements raft.Transport: send msg to every known peer.
func (t *Transport) Broadcast(msg raft.Message) {
	data, err := encodeMessage(t.self, msg)
	if err != nil {
		t.log.Error().Err(err).Msg("encode broadcast")
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, addr := range t.peers {
		if id == t.self {
			continue
		}
		if err := t.udp.Send(data, addr); err != nil {
			t.log.Warn().Err(err).Uint32("peer", uint32(id)).Msg("broadcast send failed")
		}
	}
}

// SendHeartbeat fans a bare liveness ping out to every known peer. The
// daemon calls this on a timer only while it believes it is leader.
func (t *Transport) SendHeartbeat() {
	data := encodeHeartbeat(t.self)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, addr := range t.peers {
		if id == t.self {
			continue
		}
		if err := t.udp.Send(data, addr); err != nil {
			t.log.Warn().Err(err).Uint32("peer", uint32(id)).Msg("heartbeat send failed")
		}
	}
}

// Write implements raft.Transport: append {term, vote} to the WAL, then
// report completion back asynchronously, matching the coupling pkg/raft
// already assumes (spec §4.5).
func (t *Transport) Write(term uint64, vote types.PeerID) {
	go func() {
		if _, err := t.wal.Append(term, uint32(vote)); err != nil {
			t.log.Error().Err(err).Msg("WAL append failed")
		}
		if t.engine != nil {
			t.engine.WriteComplete()
		}
	}()
}
