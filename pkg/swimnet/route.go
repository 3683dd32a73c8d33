package swimnet

import (
	"github.com/tarantool/dbcore/pkg/swimwire"
	"github.com/tarantool/dbcore/pkg/types"
)

// ApplyRoute resolves the logical source/destination carried in a
// packet's optional Route section (spec §6, glossary "Route section"):
// when a packet arrives relayed through a proxy, the wire-level src is
// the proxy, but callers that care about the originating member need the
// route's logical src. ApplyRoute returns the address the rest of the
// SWIM engine should attribute the packet to.
func ApplyRoute(wireSrc types.Addr, route *swimwire.Route) types.Addr {
	if route == nil {
		return wireSrc
	}
	logical, err := types.ParseAddr(addrString(route.SrcAddr, route.SrcPort))
	if err != nil {
		return wireSrc
	}
	return logical
}

// BuildRoute constructs the Route section to attach when relaying a
// packet on behalf of srcAddr toward dstAddr through this node acting as
// a proxy.
func BuildRoute(srcAddr, dstAddr types.Addr) *swimwire.Route {
	return &swimwire.Route{
		SrcAddr: srcAddr.IP,
		SrcPort: srcAddr.Port,
		DstAddr: dstAddr.IP,
		DstPort: dstAddr.Port,
	}
}

func addrString(ip uint32, port uint16) string {
	a := types.Addr{IP: ip, Port: port}
	return a.String()
}
