// Package raftnet is the UDP raft.Transport (spec §9's "virtual tables ->
// Go interfaces" translation, applied to Raft broadcast/WAL instead of
// SWIM gossip). It mirrors pkg/swimnet's shape: a thin wrapper around
// net.UDPConn with msgpack framing, except Raft's Transport also owns the
// WAL append (pkg/raftlog) and reports completion back to the engine
// asynchronously, matching spec §4.5's process_async coupling.
package raftnet

import (
	"bytes"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/tarantool/dbcore/pkg/raft"
	"github.com/tarantool/dbcore/pkg/types"
	"github.com/tarantool/dbcore/pkg/vclock"
)

// wireMessage is raft.Message's wire shape. VClock is flattened to
// parallel id/lsn slices since msgpack has no native map[uint32]int64
// tag support in the handle this module shares with pkg/swimwire.
type wireMessage struct {
	Term         uint64
	Vote         uint32
	State        uint8
	LeaderID     uint32
	IsLeaderSeen bool
	VClockIDs    []uint32
	VClockLSNs   []int64
}

// packetKind discriminates a full vote/state broadcast from the
// lightweight liveness ping the daemon layers on top of it (spec §4.5's
// ProcessHeartbeat: "heartbeats still update leader_last_seen... without
// touching term/vote state"). Raft itself only broadcasts on state
// transitions; a separate periodic heartbeat is what keeps
// leader_last_seen fresh between them.
type packetKind byte

const (
	kindMessage   packetKind = 1
	kindHeartbeat packetKind = 2
)

func encodeMessage(src types.PeerID, msg raft.Message) ([]byte, error) {
	w := struct {
		Src types.PeerID
		Msg wireMessage
	}{
		Src: src,
		Msg: wireMessage{
			Term:         msg.Term,
			Vote:         uint32(msg.Vote),
			State:        uint8(msg.State),
			LeaderID:     uint32(msg.LeaderID),
			IsLeaderSeen: msg.IsLeaderSeen,
		},
	}
	for id, lsn := range msg.VClock {
		w.Msg.VClockIDs = append(w.Msg.VClockIDs, uint32(id))
		w.Msg.VClockLSNs = append(w.Msg.VClockLSNs, lsn)
	}

	buf := bytes.NewBuffer([]byte{byte(kindMessage)})
	enc := codec.NewEncoder(buf, &codec.MsgpackHandle{})
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeHeartbeat(src types.PeerID) []byte {
	buf := bytes.NewBuffer([]byte{byte(kindHeartbeat)})
	enc := codec.NewEncoder(buf, &codec.MsgpackHandle{})
	_ = enc.Encode(src)
	return buf.Bytes()
}

// decodedPacket is what the recv loop dispatches to the engine: either a
// full Message or a bare heartbeat, never both.
type decodedPacket struct {
	src       types.PeerID
	msg       raft.Message
	heartbeat bool
}

func decodePacket(data []byte) (decodedPacket, error) {
	if len(data) == 0 {
		return decodedPacket{}, errEmptyPacket
	}
	kind := packetKind(data[0])
	body := data[1:]
	switch kind {
	case kindHeartbeat:
		var src types.PeerID
		dec := codec.NewDecoder(bytes.NewReader(body), &codec.MsgpackHandle{})
		if err := dec.Decode(&src); err != nil {
			return decodedPacket{}, err
		}
		return decodedPacket{src: src, heartbeat: true}, nil
	case kindMessage:
		var w struct {
			Src types.PeerID
			Msg wireMessage
		}
		dec := codec.NewDecoder(bytes.NewReader(body), &codec.MsgpackHandle{})
		if err := dec.Decode(&w); err != nil {
			return decodedPacket{}, err
		}
		msg := raft.Message{
			Term:         w.Msg.Term,
			Vote:         types.PeerID(w.Msg.Vote),
			State:        raft.State(w.Msg.State),
			LeaderID:     types.PeerID(w.Msg.LeaderID),
			IsLeaderSeen: w.Msg.IsLeaderSeen,
		}
		if len(w.Msg.VClockIDs) > 0 {
			msg.VClock = vclock.New()
			for i, id := range w.Msg.VClockIDs {
				msg.VClock.Follow(types.PeerID(id), w.Msg.VClockLSNs[i])
			}
		}
		return decodedPacket{src: w.Src, msg: msg}, nil
	default:
		return decodedPacket{}, errUnknownKind
	}
}
