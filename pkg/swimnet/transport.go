// Package swimnet implements the SWIM UDP transport (spec §4.3, §9): a
// thin wrapper around net.UDPConn, with an optional block cipher applied
// to every packet (pkg/blockcipher), mirroring swim_transport_send/recv/
// bind/destroy from the original transport layer. The SWIM engine never
// talks to net.UDPConn directly; it only sees the Transport interface, so
// tests can swap in an in-memory transport without touching sockets.
package swimnet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/tarantool/dbcore/pkg/blockcipher"
	"github.com/tarantool/dbcore/pkg/types"
)

// Transport is what pkg/swim depends on to move bytes. One instance binds
// to one local UDP address.
type Transport interface {
	// Send writes data to dst. The codec, if configured, is applied
	// first.
	Send(data []byte, dst types.Addr) error
	// Recv blocks until a packet arrives, ctx is cancelled, or the
	// transport is closed. It returns the decoded plaintext and the
	// sender's address.
	Recv(ctx context.Context) ([]byte, types.Addr, error)
	// LocalAddr reports the bound address, with the real ephemeral port
	// filled in if 0 was requested at Bind time.
	LocalAddr() types.Addr
	Close() error
}

// UDPTransport is the production Transport, backed by a real socket.
type UDPTransport struct {
	conn  *net.UDPConn
	local types.Addr

	mu    sync.RWMutex
	codec *blockcipher.Codec

	closed atomic.Bool
}

// Bind opens a UDP socket at addr. If addr's port is 0, the kernel
// assigns one and LocalAddr reflects it afterward, matching
// swim_transport_bind's "0 port gets replaced by the real one" contract.
func Bind(addr types.Addr) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", addr.UDPAddr())
	if err != nil {
		return nil, fmt.Errorf("swimnet: bind %s: %w", addr, err)
	}
	local := addr
	if udpAddr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		local.Port = uint16(udpAddr.Port)
	}
	none, _ := blockcipher.New(blockcipher.AlgoNone, blockcipher.ModeECB, nil)
	return &UDPTransport{conn: conn, local: local, codec: none}, nil
}

// SetCodec swaps the encryption codec used for subsequent Send/Recv
// calls. Reconfiguration takes effect on the next packet only, matching
// swim_set_codec's documented behavior: in-flight reads already queued by
// the kernel are decoded with whatever codec is active when Recv
// processes them.
func (t *UDPTransport) SetCodec(c *blockcipher.Codec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.codec = c
}

func (t *UDPTransport) currentCodec() *blockcipher.Codec {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.codec
}

// Send encrypts (if configured) and writes data to dst.
func (t *UDPTransport) Send(data []byte, dst types.Addr) error {
	if t.closed.Load() {
		return fmt.Errorf("swimnet: transport closed")
	}
	framed, err := t.currentCodec().Encode(data)
	if err != nil {
		return fmt.Errorf("swimnet: encode: %w", err)
	}
	_, err = t.conn.WriteToUDP(framed, dst.UDPAddr())
	if err != nil {
		return fmt.Errorf("swimnet: send to %s: %w", dst, err)
	}
	return nil
}

// Recv reads and decrypts one packet. It respects ctx cancellation by
// racing the blocking read against the context in a helper goroutine;
// cancellation closes neither the socket nor the transport.
func (t *UDPTransport) Recv(ctx context.Context) ([]byte, types.Addr, error) {
	type result struct {
		n    int
		addr *net.UDPAddr
		buf  []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 65536)
		n, addr, err := t.conn.ReadFromUDP(buf)
		done <- result{n: n, addr: addr, buf: buf, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, types.Addr{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, types.Addr{}, fmt.Errorf("swimnet: recv: %w", r.err)
		}
		plaintext, err := t.currentCodec().Decode(r.buf[:r.n])
		if err != nil {
			return nil, types.Addr{}, fmt.Errorf("swimnet: decode: %w", err)
		}
		ip4 := r.addr.IP.To4()
		var srcAddr types.Addr
		if ip4 != nil {
			srcAddr, _ = types.ParseAddr(fmt.Sprintf("%s:%d", ip4.String(), r.addr.Port))
		}
		return plaintext, srcAddr, nil
	}
}

// LocalAddr returns the bound local address.
func (t *UDPTransport) LocalAddr() types.Addr { return t.local }

// Close releases the underlying socket. Any in-flight Recv goroutine's
// read will error out once the socket is closed.
func (t *UDPTransport) Close() error {
	t.closed.Store(true)
	return t.conn.Close()
}
