// Package swimwire implements the SWIM wire codec (spec §4.2, §6): framed
// MessagePack encode/decode of the meta map and body sections (failure
// detection, dissemination, anti-entropy, quit). Encoding uses
// hashicorp/go-msgpack/v2, the same msgpack implementation the teacher
// already pulls in transitively through hashicorp/raft, promoted here to
// a direct, exercised dependency.
//
// Decoders never panic on malformed input: the protocol is exposed to an
// untrusted network (spec §4.2), so every decode path returns a
// *DecodeError instead.
package swimwire

// Protocol version understood by this codec. Sent as META_TARANTOOL_VERSION
// on the wire for interoperability bookkeeping; this implementation does
// not gate behavior on the peer's version, it only forwards it.
const ProtocolVersion uint32 = 1

// MaxPacketSize is the fixed UDP MTU budget from spec §4.1/§6: 1.5 KB.
const MaxPacketSize = 1500

// MaxPayloadSize bounds a member's opaque payload (spec §3.1).
const MaxPayloadSize = 1200

// UUIDSize is the fixed length of a SWIM member UUID.
const UUIDSize = 16

// MemberStatus mirrors enum swim_member_status (spec §3.1, §6).
type MemberStatus uint8

const (
	StatusAlive MemberStatus = iota
	StatusSuspected
	StatusDead
	StatusLeft
)

func (s MemberStatus) String() string {
	switch s {
	case StatusAlive:
		return "alive"
	case StatusSuspected:
		return "suspected"
	case StatusDead:
		return "dead"
	case StatusLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Rank orders statuses by "more dead" for the incarnation tie-break in
// spec §3.1: alive < suspected < dead < left.
func (s MemberStatus) Rank() int { return int(s) }

// FDMsgType distinguishes a failure-detection ping from its ack (spec §6).
type FDMsgType uint8

const (
	FDPing FDMsgType = iota
	FDAck
)

// body map keys (swim_body_key in the original source).
const (
	keySrcUUID        = 0
	keyAntiEntropy    = 1
	keyFailureDetect  = 2
	keyDissemination  = 3
	keyQuit           = 4
)

// meta map keys (outside the body, alongside the optional routing section).
const (
	keyMetaVersion = 0
	keyMetaAddress = 1
	keyMetaPort    = 2
	keyMetaRouting = 3
)

const (
	keyRouteSrcAddr = 0
	keyRouteSrcPort = 1
	keyRouteDstAddr = 2
	keyRouteDstPort = 3
)

const (
	keyFDType       = 0
	keyFDGeneration = 1
	keyFDVersion    = 2
)

const (
	keyMemberStatus     = 0
	keyMemberAddress    = 1
	keyMemberPort       = 2
	keyMemberUUID       = 3
	keyMemberGeneration = 4
	keyMemberVersion    = 5
	keyMemberPayload    = 6
)

const (
	keyQuitGeneration = 0
	keyQuitVersion    = 1
)

// Route is the optional wire-level hop list letting a packet be forwarded
// through a proxy without losing the original source identity (spec §6,
// glossary "Route section").
type Route struct {
	SrcAddr uint32
	SrcPort uint16
	DstAddr uint32
	DstPort uint16
}

// Meta is the packet prefix carried outside the body.
type Meta struct {
	Version  uint32
	SrcAddr  uint32
	SrcPort  uint16
	Route    *Route
}

// FailureDetection is the FD section of a packet body.
type FailureDetection struct {
	Type       FDMsgType
	Generation uint64
	Version    uint64
}

// MemberRecord is one entry of an ANTI_ENTROPY or DISSEMINATION array.
type MemberRecord struct {
	Status     MemberStatus
	Address    uint32
	Port       uint16
	UUID       [UUIDSize]byte
	Generation uint64
	Version    uint64
	Payload    []byte // nil if not carried in this record
}

// Quit is the QUIT section, carrying the incarnation the quitting member
// is leaving at.
type Quit struct {
	Generation uint64
	Version    uint64
}

// Packet is a fully decoded SWIM datagram.
type Packet struct {
	Meta Meta

	SrcUUID       [UUIDSize]byte
	FD            *FailureDetection
	Dissemination []MemberRecord
	AntiEntropy   []MemberRecord
	Quit          *Quit
}

// DecodeError is returned for any malformed input. Kind lets callers log
// without string-matching; it is never meant to be surfaced to a human
// beyond a log line (spec §7: "Logged and dropped: malformed incoming
// packets").
type DecodeError struct {
	Kind string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "swimwire: " + e.Kind + ": " + e.Err.Error()
	}
	return "swimwire: " + e.Kind
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(kind string, err error) *DecodeError {
	return &DecodeError{Kind: kind, Err: err}
}
