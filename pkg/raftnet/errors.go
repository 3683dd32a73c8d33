package raftnet

import "errors"

var (
	errEmptyPacket = errors.New("raftnet: empty packet")
	errUnknownKind = errors.New("raftnet: unknown packet kind")
)
