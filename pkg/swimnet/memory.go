package swimnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarantool/dbcore/pkg/types"
)

// MemoryNetwork is a shared, in-process rendezvous for MemoryTransport
// instances. Tests construct one network and bind several transports to
// it, getting the same addressing and delivery semantics as real UDP
// sockets without opening any.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[types.Addr]chan packet
}

type packet struct {
	data []byte
	src  types.Addr
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[types.Addr]chan packet)}
}

// MemoryTransport implements Transport over a MemoryNetwork, for
// deterministic tests of the SWIM engine that don't want real sockets or
// encryption.
type MemoryTransport struct {
	net   *MemoryNetwork
	addr  types.Addr
	inbox chan packet
	done  chan struct{}
}

// Bind registers a new transport at addr on net. addr must be unique
// within the network.
func (n *MemoryNetwork) Bind(addr types.Addr) (*MemoryTransport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.peers[addr]; exists {
		return nil, fmt.Errorf("swimnet: address %s already bound", addr)
	}
	inbox := make(chan packet, 256)
	n.peers[addr] = inbox
	return &MemoryTransport{net: n, addr: addr, inbox: inbox, done: make(chan struct{})}, nil
}

func (t *MemoryTransport) Send(data []byte, dst types.Addr) error {
	t.net.mu.Lock()
	inbox, ok := t.net.peers[dst]
	t.net.mu.Unlock()
	if !ok {
		return fmt.Errorf("swimnet: no peer bound at %s", dst)
	}
	cp := append([]byte(nil), data...)
	select {
	case inbox <- packet{data: cp, src: t.addr}:
		return nil
	default:
		return fmt.Errorf("swimnet: peer %s inbox full", dst)
	}
}

func (t *MemoryTransport) Recv(ctx context.Context) ([]byte, types.Addr, error) {
	select {
	case <-ctx.Done():
		return nil, types.Addr{}, ctx.Err()
	case <-t.done:
		return nil, types.Addr{}, fmt.Errorf("swimnet: transport closed")
	case p := <-t.inbox:
		return p.data, p.src, nil
	}
}

func (t *MemoryTransport) LocalAddr() types.Addr { return t.addr }

func (t *MemoryTransport) Close() error {
	t.net.mu.Lock()
	delete(t.net.peers, t.addr)
	t.net.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	return nil
}
