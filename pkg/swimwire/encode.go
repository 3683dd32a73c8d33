package swimwire

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

var mpHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return h
}()

// Encode serializes a packet to MessagePack. It never fails on a
// well-formed *Packet built by the engine; the error return exists for
// the encoder's own allocation failures.
func Encode(pkt *Packet) ([]byte, error) {
	body := map[uint8]interface{}{
		keySrcUUID: pkt.SrcUUID[:],
	}
	if pkt.FD != nil {
		body[keyFailureDetect] = map[uint8]interface{}{
			keyFDType:       uint8(pkt.FD.Type),
			keyFDGeneration: pkt.FD.Generation,
			keyFDVersion:    pkt.FD.Version,
		}
	}
	if len(pkt.Dissemination) > 0 {
		body[keyDissemination] = encodeMembers(pkt.Dissemination)
	}
	if len(pkt.AntiEntropy) > 0 {
		body[keyAntiEntropy] = encodeMembers(pkt.AntiEntropy)
	}
	if pkt.Quit != nil {
		body[keyQuit] = map[uint8]interface{}{
			keyQuitGeneration: pkt.Quit.Generation,
			keyQuitVersion:    pkt.Quit.Version,
		}
	}

	meta := map[uint8]interface{}{
		keyMetaVersion: pkt.Meta.Version,
		keyMetaAddress: pkt.Meta.SrcAddr,
		keyMetaPort:    pkt.Meta.SrcPort,
	}
	if pkt.Meta.Route != nil {
		meta[keyMetaRouting] = map[uint8]interface{}{
			keyRouteSrcAddr: pkt.Meta.Route.SrcAddr,
			keyRouteSrcPort: pkt.Meta.Route.SrcPort,
			keyRouteDstAddr: pkt.Meta.Route.DstAddr,
			keyRouteDstPort: pkt.Meta.Route.DstPort,
		}
	}

	var out []byte
	enc := codec.NewEncoderBytes(&out, mpHandle)
	if err := enc.Encode(meta); err != nil {
		return nil, fmt.Errorf("swimwire: encode meta: %w", err)
	}
	var bodyBytes []byte
	bodyEnc := codec.NewEncoderBytes(&bodyBytes, mpHandle)
	if err := bodyEnc.Encode(body); err != nil {
		return nil, fmt.Errorf("swimwire: encode body: %w", err)
	}
	return append(out, bodyBytes...), nil
}

func encodeMembers(members []MemberRecord) []map[uint8]interface{} {
	out := make([]map[uint8]interface{}, len(members))
	for i, m := range members {
		rec := map[uint8]interface{}{
			keyMemberStatus:     uint8(m.Status),
			keyMemberAddress:    m.Address,
			keyMemberPort:       m.Port,
			keyMemberUUID:       append([]byte(nil), m.UUID[:]...),
			keyMemberGeneration: m.Generation,
			keyMemberVersion:    m.Version,
		}
		if m.Payload != nil {
			rec[keyMemberPayload] = m.Payload
		}
		out[i] = rec
	}
	return out
}

// EncodeBudgeted encodes pkt, dropping optional sections in the priority
// order spec §4.1 mandates (quit never dropped > FD > dissemination >
// anti-entropy) until the result fits within budget bytes. It mutates a
// shallow copy of pkt, never the caller's packet.
func EncodeBudgeted(pkt *Packet, budget int) ([]byte, error) {
	working := *pkt
	for {
		out, err := Encode(&working)
		if err != nil {
			return nil, err
		}
		if len(out) <= budget || (len(working.AntiEntropy) == 0 && len(working.Dissemination) == 0 && working.FD == nil) {
			return out, nil
		}
		switch {
		case len(working.AntiEntropy) > 0:
			working.AntiEntropy = working.AntiEntropy[:len(working.AntiEntropy)-1]
		case len(working.Dissemination) > 0:
			working.Dissemination = working.Dissemination[:len(working.Dissemination)-1]
		case working.FD != nil:
			working.FD = nil
		}
	}
}
