package swim

import (
	"context"

	"github.com/tarantool/dbcore/pkg/types"
)

// Transport is the virtual table the engine needs from the network layer
// (spec §9's "virtual tables → Go interfaces" translation). pkg/swimnet's
// UDPTransport and MemoryTransport both satisfy it.
type Transport interface {
	Send(data []byte, dst types.Addr) error
	Recv(ctx context.Context) ([]byte, types.Addr, error)
	LocalAddr() types.Addr
	Close() error
}
