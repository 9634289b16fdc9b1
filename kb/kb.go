// Package kb holds the placed topology: wireless nodes with their
// addresses and positions, and the interferers sharing their channel.
package kb

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/signalsfoundry/linkprobe/model"
)

// ErrAddressSpace indicates the subnet has no host address left.
var ErrAddressSpace = errors.New("subnet exhausted")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventNodePlaced EventType = iota
	EventInterfererPlaced
)

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type       EventType
	Node       model.Node
	Interferer model.Interferer
}

// KnowledgeBase is an in-memory, thread-safe store for the placed topology.
// Node indices are dense and assigned in placement order.
type KnowledgeBase struct {
	mu sync.RWMutex

	subnet      netip.Prefix
	nodes       []model.Node
	byAddr      map[netip.Addr]int
	interferers []model.Interferer

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB allocating host addresses from
// subnet, starting at the first address after the network address.
func NewKnowledgeBase(subnet netip.Prefix) *KnowledgeBase {
	return &KnowledgeBase{
		subnet: subnet.Masked(),
		byAddr: make(map[netip.Addr]int),
	}
}

// Subnet returns the prefix node addresses are drawn from.
func (kb *KnowledgeBase) Subnet() netip.Prefix {
	return kb.subnet
}

// AddNode places the next wireless node at pos and assigns its address.
func (kb *KnowledgeBase) AddNode(pos model.Position) (model.Node, error) {
	kb.mu.Lock()
	idx := len(kb.nodes)
	addr := kb.subnet.Addr()
	for i := 0; i <= idx; i++ {
		addr = addr.Next()
	}
	if !kb.subnet.Contains(addr) || addr == lastAddr(kb.subnet) {
		kb.mu.Unlock()
		return model.Node{}, fmt.Errorf("%w: no address for node %d in %s", ErrAddressSpace, idx, kb.subnet)
	}
	n := model.Node{Index: idx, Address: addr, Position: pos}
	kb.nodes = append(kb.nodes, n)
	kb.byAddr[addr] = idx
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventNodePlaced, Node: n})
	return n, nil
}

// AddInterferer places the next interferer.
func (kb *KnowledgeBase) AddInterferer(pos model.Position, powerWatts float64) model.Interferer {
	kb.mu.Lock()
	in := model.Interferer{Index: len(kb.interferers), Position: pos, PowerWatts: powerWatts}
	kb.interferers = append(kb.interferers, in)
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	kb.notify(subs, Event{Type: EventInterfererPlaced, Interferer: in})
	return in
}

// GetNode returns the node with the given index.
func (kb *KnowledgeBase) GetNode(index int) (model.Node, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if index < 0 || index >= len(kb.nodes) {
		return model.Node{}, false
	}
	return kb.nodes[index], true
}

// NodeByAddress resolves an address back to its node.
func (kb *KnowledgeBase) NodeByAddress(addr netip.Addr) (model.Node, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	idx, ok := kb.byAddr[addr]
	if !ok {
		return model.Node{}, false
	}
	return kb.nodes[idx], true
}

// NodeCount returns the number of placed wireless nodes.
func (kb *KnowledgeBase) NodeCount() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.nodes)
}

// ListNodes returns a snapshot of all nodes in index order.
func (kb *KnowledgeBase) ListNodes() []model.Node {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]model.Node(nil), kb.nodes...)
}

// ListInterferers returns a snapshot of all interferers in index order.
func (kb *KnowledgeBase) ListInterferers() []model.Interferer {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return append([]model.Interferer(nil), kb.interferers...)
}

// Addresses returns node addresses in index order.
func (kb *KnowledgeBase) Addresses() []netip.Addr {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]netip.Addr, len(kb.nodes))
	for i, n := range kb.nodes {
		out[i] = n.Address
	}
	return out
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

// Subscribers are notified outside the lock to avoid deadlocks.
func (kb *KnowledgeBase) notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}

// lastAddr is the broadcast address of an IPv4 prefix.
func lastAddr(p netip.Prefix) netip.Addr {
	a := p.Addr().As4()
	hostBits := 32 - p.Bits()
	v := uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
	v |= (1 << hostBits) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
