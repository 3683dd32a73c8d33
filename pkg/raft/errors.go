package raft

// ProtocolError is returned for vote/message rejections a caller must be
// able to branch on by kind (spec §7's "Protocol rejections"), e.g. "vote
// request from a node with inferior vclock".
type ProtocolError struct {
	Kind string
	Msg  string
}

func (e *ProtocolError) Error() string { return "raft: " + e.Kind + ": " + e.Msg }

func protoErr(kind, msg string) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: msg}
}

const (
	ErrKindInvalidMessage = "invalid_message"
	ErrKindClosed         = "closed"
)
