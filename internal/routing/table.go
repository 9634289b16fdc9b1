package routing

import (
	"net/netip"

	"github.com/signalsfoundry/linkprobe/model"
)

// table mirrors one substrate's live routes together with a destination
// index. Every add or remove goes through the table so the index never
// drifts from the substrate.
type table struct {
	sub    Substrate
	routes []model.ForwardingEntry
	// byDest maps a host destination to its entry indices, ascending.
	// Protected entries are never indexed.
	byDest map[netip.Addr][]int
}

func newTable(sub Substrate) *table {
	t := &table{
		sub:    sub,
		routes: sub.Routes(),
		byDest: make(map[netip.Addr][]int),
	}
	for i := ProtectedEntries; i < len(t.routes); i++ {
		r := t.routes[i]
		if !r.IsHost() {
			continue
		}
		dst := r.Destination.Addr()
		t.byDest[dst] = append(t.byDest[dst], i)
	}
	return t
}

// entries returns the indices of host routes for dest; the last one is the
// most recently added and takes priority.
func (t *table) entries(dest netip.Addr) []int {
	return t.byDest[dest]
}

func (t *table) add(dest, nextHop netip.Addr, iface int, metric uint32) error {
	if err := t.sub.AddHostRoute(dest, nextHop, iface, metric); err != nil {
		return err
	}
	t.routes = append(t.routes, model.ForwardingEntry{
		Destination: netip.PrefixFrom(dest, dest.BitLen()),
		NextHop:     nextHop,
		Interface:   iface,
		Metric:      metric,
	})
	t.byDest[dest] = append(t.byDest[dest], len(t.routes)-1)
	return nil
}

func (t *table) remove(index int) error {
	if err := t.sub.RemoveRoute(index); err != nil {
		return err
	}
	t.routes = append(t.routes[:index], t.routes[index+1:]...)

	for dst, idxs := range t.byDest {
		kept := idxs[:0]
		for _, i := range idxs {
			switch {
			case i == index:
				continue
			case i > index:
				kept = append(kept, i-1)
			default:
				kept = append(kept, i)
			}
		}
		if len(kept) == 0 {
			delete(t.byDest, dst)
		} else {
			t.byDest[dst] = kept
		}
	}
	return nil
}

// truncate removes every entry past the protected defaults, last first.
func (t *table) truncate() (int, error) {
	removed := 0
	for i := len(t.routes) - 1; i >= ProtectedEntries; i-- {
		if err := t.remove(i); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
