package model

import (
	"fmt"
	"net/netip"
)

// Self marks the diagonal of a routing matrix. It is never a valid next hop.
const Self = -1

// Node represents a measured wireless endpoint. Nodes are identified by their
// index in [0, N); the address is assigned once by the topology provider.
type Node struct {
	Index    int
	Address  netip.Addr
	Position Position
}

func (n Node) String() string {
	return fmt.Sprintf("node-%d(%s)", n.Index, n.Address)
}
