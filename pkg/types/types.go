// Package types holds small value types shared between the SWIM, Raft and
// limbo packages, so none of them need to import each other just to agree
// on how a network address or a peer identifier is represented on the wire.
package types

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Addr is an IPv4 address and port, encoded on the wire as a host-order
// uint32 and a uint16 (see spec §6, META_SRC_ADDRESS / MEMBER_ADDRESS).
type Addr struct {
	IP   uint32
	Port uint16
}

// ParseAddr parses "host:port" or a bare "port" (host defaults to
// 127.0.0.1, matching swim_cfg's URI convention) into an Addr. Only IPv4
// is supported; the spec explicitly excludes domain names and unix
// sockets from SWIM configuration.
func ParseAddr(uri string) (Addr, error) {
	host, portStr, err := splitHostPort(uri)
	if err != nil {
		return Addr{}, err
	}
	if host == "" {
		host = "127.0.0.1"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Addr{}, fmt.Errorf("invalid uri %q: domain names are not supported", uri)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return Addr{}, fmt.Errorf("invalid uri %q: not an IPv4 address", uri)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid uri %q: bad port: %w", uri, err)
	}
	if port == 0 {
		return Addr{}, fmt.Errorf("invalid uri %q: port is 0/undefined", uri)
	}
	return Addr{
		IP:   binary.BigEndian.Uint32(ip4),
		Port: uint16(port),
	}, nil
}

func splitHostPort(uri string) (host, port string, err error) {
	if !strings.Contains(uri, ":") {
		return "", uri, nil
	}
	return net.SplitHostPort(uri)
}

// String renders the address back as "host:port".
func (a Addr) String() string {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a.IP)
	return fmt.Sprintf("%s:%d", net.IP(buf).String(), a.Port)
}

// UDPAddr converts to a net.UDPAddr for use with net.UDPConn.
func (a Addr) UDPAddr() *net.UDPAddr {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, a.IP)
	return &net.UDPAddr{IP: net.IP(buf), Port: int(a.Port)}
}

// IsZero reports whether the address was never set.
func (a Addr) IsZero() bool {
	return a.IP == 0 && a.Port == 0
}

// PeerID identifies a Raft/limbo cluster member. 0 is reserved for "no
// vote cast" / "no owner" per spec §3.2 and §3.3.
type PeerID uint32
