package model

import (
	"fmt"
	"net/netip"
)

// Interface ids follow the node layout used by the transport engine.
const (
	// LoopbackInterface is always interface 0.
	LoopbackInterface = 0
	// PrimaryWirelessInterface is the interface id installed by the
	// table-driven reconciler when no prior entry supplies one.
	PrimaryWirelessInterface = 2
)

// ForwardingEntry is one live record of a node's static routing table.
type ForwardingEntry struct {
	Destination netip.Prefix
	// NextHop is the gateway address. A zero value means "directly
	// connected" and is only used by the protected default entries.
	NextHop   netip.Addr
	Interface int
	Metric    uint32
}

// IsHost reports whether the entry is a single-address host route.
func (e ForwardingEntry) IsHost() bool {
	return e.Destination.IsValid() && e.Destination.Bits() == e.Destination.Addr().BitLen()
}

func (e ForwardingEntry) String() string {
	gw := "direct"
	if e.NextHop.IsValid() {
		gw = e.NextHop.String()
	}
	return fmt.Sprintf("%s via %s if=%d metric=%d", e.Destination, gw, e.Interface, e.Metric)
}
