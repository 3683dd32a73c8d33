package swimwire

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// Decode parses a MessagePack-framed SWIM datagram. Malformed input always
// comes back as a *DecodeError, never a panic.
func Decode(data []byte) (pkt *Packet, err error) {
	defer func() {
		if r := recover(); r != nil {
			pkt = nil
			err = decodeErr("malformed", fmt.Errorf("panic decoding packet: %v", r))
		}
	}()

	dec := codec.NewDecoderBytes(data, mpHandle)

	var rawMeta map[interface{}]interface{}
	if decErr := dec.Decode(&rawMeta); decErr != nil {
		return nil, decodeErr("meta", decErr)
	}
	meta, err := decodeMeta(rawMeta)
	if err != nil {
		return nil, err
	}

	var rawBody map[interface{}]interface{}
	if decErr := dec.Decode(&rawBody); decErr != nil {
		return nil, decodeErr("body", decErr)
	}
	out := &Packet{Meta: meta}
	if err := decodeBody(rawBody, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeMeta(raw map[interface{}]interface{}) (Meta, error) {
	var m Meta
	version, err := reqUint32(raw, keyMetaVersion, "meta.version")
	if err != nil {
		return m, err
	}
	m.Version = version

	addr, err := reqUint32(raw, keyMetaAddress, "meta.address")
	if err != nil {
		return m, err
	}
	m.SrcAddr = addr

	port, err := reqUint16(raw, keyMetaPort, "meta.port")
	if err != nil {
		return m, err
	}
	if port == 0 {
		return m, decodeErr("meta.port", fmt.Errorf("port is 0/undefined"))
	}
	m.SrcPort = port

	if rv, ok := raw[uint64(keyMetaRouting)]; ok {
		rmap, ok := asMap(rv)
		if !ok {
			return m, decodeErr("meta.routing", fmt.Errorf("not a map"))
		}
		route := &Route{}
		if route.SrcAddr, err = reqUint32(rmap, keyRouteSrcAddr, "route.src_address"); err != nil {
			return m, err
		}
		if route.SrcPort, err = reqUint16(rmap, keyRouteSrcPort, "route.src_port"); err != nil {
			return m, err
		}
		if route.DstAddr, err = reqUint32(rmap, keyRouteDstAddr, "route.dst_address"); err != nil {
			return m, err
		}
		if route.DstPort, err = reqUint16(rmap, keyRouteDstPort, "route.dst_port"); err != nil {
			return m, err
		}
		m.Route = route
	}
	return m, nil
}

func decodeBody(raw map[interface{}]interface{}, out *Packet) error {
	uuidRaw, ok := raw[uint64(keySrcUUID)]
	if !ok {
		return decodeErr("body.src_uuid", fmt.Errorf("missing mandatory SRC_UUID"))
	}
	uuidBytes, ok := asBytes(uuidRaw)
	if !ok || len(uuidBytes) != UUIDSize {
		return decodeErr("body.src_uuid", fmt.Errorf("expected %d byte UUID", UUIDSize))
	}
	copy(out.SrcUUID[:], uuidBytes)

	if fdRaw, ok := raw[uint64(keyFailureDetect)]; ok {
		fdMap, ok := asMap(fdRaw)
		if !ok {
			return decodeErr("body.fd", fmt.Errorf("not a map"))
		}
		fd := &FailureDetection{}
		typ, err := reqUint8(fdMap, keyFDType, "fd.type")
		if err != nil {
			return err
		}
		if typ != uint8(FDPing) && typ != uint8(FDAck) {
			return decodeErr("fd.type", fmt.Errorf("invalid FD message type %d", typ))
		}
		fd.Type = FDMsgType(typ)
		if fd.Generation, err = reqUint64(fdMap, keyFDGeneration, "fd.generation"); err != nil {
			return err
		}
		if fd.Version, err = reqUint64(fdMap, keyFDVersion, "fd.version"); err != nil {
			return err
		}
		out.FD = fd
	}

	if deRaw, ok := raw[uint64(keyDissemination)]; ok {
		members, err := decodeMembers(deRaw, "dissemination")
		if err != nil {
			return err
		}
		out.Dissemination = members
	}

	if aeRaw, ok := raw[uint64(keyAntiEntropy)]; ok {
		members, err := decodeMembers(aeRaw, "anti_entropy")
		if err != nil {
			return err
		}
		out.AntiEntropy = members
	}

	if quitRaw, ok := raw[uint64(keyQuit)]; ok {
		quitMap, ok := asMap(quitRaw)
		if !ok {
			return decodeErr("body.quit", fmt.Errorf("not a map"))
		}
		q := &Quit{}
		var err error
		if q.Generation, err = reqUint64(quitMap, keyQuitGeneration, "quit.generation"); err != nil {
			return err
		}
		if q.Version, err = reqUint64(quitMap, keyQuitVersion, "quit.version"); err != nil {
			return err
		}
		out.Quit = q
	}
	return nil
}

func decodeMembers(raw interface{}, section string) ([]MemberRecord, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, decodeErr(section, fmt.Errorf("expected array"))
	}
	out := make([]MemberRecord, 0, len(arr))
	for _, item := range arr {
		m, ok := asMap(item)
		if !ok {
			return nil, decodeErr(section+".member", fmt.Errorf("expected map"))
		}
		rec, err := decodeMember(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeMember(raw map[interface{}]interface{}) (MemberRecord, error) {
	var rec MemberRecord
	status, err := reqUint8(raw, keyMemberStatus, "member.status")
	if err != nil {
		return rec, err
	}
	if status > uint8(StatusLeft) {
		return rec, decodeErr("member.status", fmt.Errorf("invalid status %d", status))
	}
	rec.Status = MemberStatus(status)

	if rec.Address, err = reqUint32(raw, keyMemberAddress, "member.address"); err != nil {
		return rec, err
	}
	if rec.Port, err = reqUint16(raw, keyMemberPort, "member.port"); err != nil {
		return rec, err
	}
	if rec.Port == 0 {
		return rec, decodeErr("member.port", fmt.Errorf("port is 0/undefined"))
	}

	uuidRaw, ok := raw[uint64(keyMemberUUID)]
	if !ok {
		return rec, decodeErr("member.uuid", fmt.Errorf("missing mandatory UUID"))
	}
	uuidBytes, ok := asBytes(uuidRaw)
	if !ok || len(uuidBytes) != UUIDSize {
		return rec, decodeErr("member.uuid", fmt.Errorf("expected %d byte UUID", UUIDSize))
	}
	copy(rec.UUID[:], uuidBytes)

	if rec.Generation, err = reqUint64(raw, keyMemberGeneration, "member.generation"); err != nil {
		return rec, err
	}
	if rec.Version, err = reqUint64(raw, keyMemberVersion, "member.version"); err != nil {
		return rec, err
	}

	if payloadRaw, ok := raw[uint64(keyMemberPayload)]; ok {
		payload, ok := asBytes(payloadRaw)
		if !ok {
			return rec, decodeErr("member.payload", fmt.Errorf("not bin"))
		}
		if len(payload) > MaxPayloadSize {
			return rec, decodeErr("member.payload", fmt.Errorf("payload too big: %d bytes", len(payload)))
		}
		rec.Payload = payload
	}
	return rec, nil
}

// --- decoding helpers: normalize the interface{} soup msgpack hands back ---

func asMap(v interface{}) (map[interface{}]interface{}, bool) {
	m, ok := v.(map[interface{}]interface{})
	return m, ok
}

func asBytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	default:
		return nil, false
	}
}

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	default:
		return 0, false
	}
}

func reqUint64(raw map[interface{}]interface{}, key uint8, field string) (uint64, error) {
	v, ok := raw[uint64(key)]
	if !ok {
		return 0, decodeErr(field, fmt.Errorf("missing mandatory field"))
	}
	n, ok := asUint64(v)
	if !ok {
		return 0, decodeErr(field, fmt.Errorf("expected non-negative integer"))
	}
	return n, nil
}

func reqUint32(raw map[interface{}]interface{}, key uint8, field string) (uint32, error) {
	n, err := reqUint64(raw, key, field)
	if err != nil {
		return 0, err
	}
	if n > 0xFFFFFFFF {
		return 0, decodeErr(field, fmt.Errorf("value out of range"))
	}
	return uint32(n), nil
}

func reqUint16(raw map[interface{}]interface{}, key uint8, field string) (uint16, error) {
	n, err := reqUint64(raw, key, field)
	if err != nil {
		return 0, err
	}
	if n > 0xFFFF {
		return 0, decodeErr(field, fmt.Errorf("value out of range"))
	}
	return uint16(n), nil
}

func reqUint8(raw map[interface{}]interface{}, key uint8, field string) (uint8, error) {
	n, err := reqUint64(raw, key, field)
	if err != nil {
		return 0, err
	}
	if n > 0xFF {
		return 0, decodeErr(field, fmt.Errorf("value out of range"))
	}
	return uint8(n), nil
}
