package routing

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/signalsfoundry/linkprobe/model"
)

var (
	// ErrRouteIndex indicates a route index outside the live table.
	ErrRouteIndex = errors.New("route index out of range")
	// ErrInvalidEntry indicates a forwarding entry with no destination.
	ErrInvalidEntry = errors.New("invalid forwarding entry")
)

// ProtectedEntries is the number of leading entries (loopback and the
// attached subnet) that reconciliation must never remove.
const ProtectedEntries = 2

// Substrate is the per-node routing surface the reconciler drives.
type Substrate interface {
	// Routes returns a copy of the live table in insertion order.
	Routes() []model.ForwardingEntry
	// RemoveRoute deletes the entry at index; later entries shift down.
	RemoveRoute(index int) error
	// AddHostRoute appends a /32 route to dest via nextHop.
	AddHostRoute(dest, nextHop netip.Addr, iface int, metric uint32) error
	// Interfaces returns the number of interfaces, loopback included.
	Interfaces() int
}

// StaticRouting is an in-memory static routing table for one node.
type StaticRouting struct {
	mu         sync.RWMutex
	routes     []model.ForwardingEntry
	interfaces int
}

// NewStaticRouting returns a table holding the two protected defaults: the
// loopback network on interface 0 and subnet on interface 1.
func NewStaticRouting(subnet netip.Prefix, interfaces int) *StaticRouting {
	if interfaces < 2 {
		interfaces = 2
	}
	return &StaticRouting{
		interfaces: interfaces,
		routes: []model.ForwardingEntry{
			{
				Destination: netip.MustParsePrefix("127.0.0.0/8"),
				Interface:   model.LoopbackInterface,
			},
			{
				Destination: subnet.Masked(),
				Interface:   1,
			},
		},
	}
}

func (s *StaticRouting) Routes() []model.ForwardingEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ForwardingEntry, len(s.routes))
	copy(out, s.routes)
	return out
}

func (s *StaticRouting) Interfaces() int {
	return s.interfaces
}

func (s *StaticRouting) RemoveRoute(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.routes) {
		return fmt.Errorf("%w: %d of %d", ErrRouteIndex, index, len(s.routes))
	}
	s.routes = append(s.routes[:index], s.routes[index+1:]...)
	return nil
}

func (s *StaticRouting) AddHostRoute(dest, nextHop netip.Addr, iface int, metric uint32) error {
	if !dest.IsValid() {
		return fmt.Errorf("%w: destination not set", ErrInvalidEntry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, model.ForwardingEntry{
		Destination: netip.PrefixFrom(dest, dest.BitLen()),
		NextHop:     nextHop,
		Interface:   iface,
		Metric:      metric,
	})
	return nil
}

// Lookup selects the route used to forward towards dest: longest prefix
// first, then lowest metric, then earliest entry.
func (s *StaticRouting) Lookup(dest netip.Addr) (model.ForwardingEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := -1
	for i, r := range s.routes {
		if !r.Destination.Contains(dest) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		cur := s.routes[best]
		switch {
		case r.Destination.Bits() > cur.Destination.Bits():
			best = i
		case r.Destination.Bits() == cur.Destination.Bits() && r.Metric < cur.Metric:
			best = i
		}
	}
	if best < 0 {
		return model.ForwardingEntry{}, false
	}
	return s.routes[best], true
}

// NextHop resolves the gateway for dest. Directly connected entries resolve
// to dest itself.
func (s *StaticRouting) NextHop(dest netip.Addr) (netip.Addr, bool) {
	r, ok := s.Lookup(dest)
	if !ok {
		return netip.Addr{}, false
	}
	if r.NextHop.IsValid() {
		return r.NextHop, true
	}
	return dest, true
}
