package swimnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarantool/dbcore/pkg/types"
)

func mustAddr(t *testing.T, s string) types.Addr {
	t.Helper()
	a, err := types.ParseAddr(s)
	require.NoError(t, err)
	return a
}

func TestMemoryTransportSendRecv(t *testing.T) {
	net := NewMemoryNetwork()
	a := mustAddr(t, "127.0.0.1:4001")
	b := mustAddr(t, "127.0.0.1:4002")

	ta, err := net.Bind(a)
	require.NoError(t, err)
	tb, err := net.Bind(b)
	require.NoError(t, err)
	defer ta.Close()
	defer tb.Close()

	require.NoError(t, ta.Send([]byte("hi"), b))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, src, err := tb.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
	assert.Equal(t, a, src)
}

func TestMemoryTransportDuplicateBindFails(t *testing.T) {
	net := NewMemoryNetwork()
	a := mustAddr(t, "127.0.0.1:4003")
	_, err := net.Bind(a)
	require.NoError(t, err)
	_, err = net.Bind(a)
	require.Error(t, err)
}

func TestMemoryTransportSendToUnknownPeer(t *testing.T) {
	net := NewMemoryNetwork()
	a := mustAddr(t, "127.0.0.1:4004")
	ta, err := net.Bind(a)
	require.NoError(t, err)
	defer ta.Close()

	err = ta.Send([]byte("x"), mustAddr(t, "127.0.0.1:9999"))
	require.Error(t, err)
}

func TestMemoryTransportRecvContextCancel(t *testing.T) {
	net := NewMemoryNetwork()
	a := mustAddr(t, "127.0.0.1:4005")
	ta, err := net.Bind(a)
	require.NoError(t, err)
	defer ta.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = ta.Recv(ctx)
	require.Error(t, err)
}

func TestRouteRoundTrip(t *testing.T) {
	src := mustAddr(t, "127.0.0.1:5001")
	dst := mustAddr(t, "127.0.0.1:5002")
	route := BuildRoute(src, dst)
	resolved := ApplyRoute(mustAddr(t, "127.0.0.1:6000"), route)
	assert.Equal(t, src, resolved)
}

func TestApplyRouteNilPassesThroughWireSrc(t *testing.T) {
	wire := mustAddr(t, "127.0.0.1:7000")
	assert.Equal(t, wire, ApplyRoute(wire, nil))
}
