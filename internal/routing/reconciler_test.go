package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"testing"

	"github.com/signalsfoundry/linkprobe/internal/matrix"
	"github.com/signalsfoundry/linkprobe/model"
)

type countingRecorder map[string]int

func (c countingRecorder) ObserveRouteOperations(op string, n int) { c[op] += n }

func testNetwork(n, interfaces int) (Network, []*StaticRouting) {
	subnet := netip.MustParsePrefix("10.0.0.0/24")
	net := Network{}
	tables := make([]*StaticRouting, n)
	for i := 0; i < n; i++ {
		net.Addresses = append(net.Addresses, netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1)))
		tables[i] = NewStaticRouting(subnet, interfaces)
		net.Substrates = append(net.Substrates, tables[i])
	}
	return net, tables
}

func hostRoutes(sr *StaticRouting) map[netip.Addr][]model.ForwardingEntry {
	out := make(map[netip.Addr][]model.ForwardingEntry)
	for _, r := range sr.Routes()[ProtectedEntries:] {
		out[r.Destination.Addr()] = append(out[r.Destination.Addr()], r)
	}
	return out
}

func TestInitializeDirectRoutes_Completeness(t *testing.T) {
	const n = 6
	net, tables := testNetwork(n, 3)

	// Junk that must be discarded.
	if err := tables[0].AddHostRoute(net.Addresses[3], net.Addresses[1], 1, 5); err != nil {
		t.Fatalf("AddHostRoute: %v", err)
	}

	r := NewReconciler(WithRand(rand.New(rand.NewPCG(7, 7))))
	st, err := r.InitializeDirectRoutes(context.Background(), net)
	if err != nil {
		t.Fatalf("InitializeDirectRoutes: %v", err)
	}
	if st.Added != n*(n-1) || st.Removed != 1 {
		t.Fatalf("stats = %+v, want Added=%d Removed=1", st, n*(n-1))
	}

	for i, sr := range tables {
		routes := sr.Routes()
		if len(routes) != ProtectedEntries+n-1 {
			t.Fatalf("node %d has %d routes, want %d", i, len(routes), ProtectedEntries+n-1)
		}
		if routes[0].Interface != model.LoopbackInterface || routes[1].Interface != 1 {
			t.Fatalf("node %d protected entries altered: %v", i, routes[:2])
		}
		byDest := hostRoutes(sr)
		for j, addr := range net.Addresses {
			entries := byDest[addr]
			if i == j {
				if len(entries) != 0 {
					t.Fatalf("node %d has a route to itself", i)
				}
				continue
			}
			if len(entries) != 1 {
				t.Fatalf("node %d has %d routes to node %d, want 1", i, len(entries), j)
			}
			e := entries[0]
			if e.NextHop != addr || e.Metric != 0 {
				t.Fatalf("node %d route to %d = %v, want direct with metric 0", i, j, e)
			}
			if e.Interface < 1 || e.Interface > 2 {
				t.Fatalf("node %d route to %d uses interface %d", i, j, e.Interface)
			}
		}
	}
}

func TestReconcile_AppliesMultiHopAndKeepsOptimal(t *testing.T) {
	net, tables := testNetwork(4, 2)
	ctx := context.Background()
	rec := countingRecorder{}
	r := NewReconciler(WithMetrics(rec))

	if _, err := r.InitializeDirectRoutes(ctx, net); err != nil {
		t.Fatalf("InitializeDirectRoutes: %v", err)
	}

	routes := matrix.DirectRouting(4)
	routes[0][3] = 1 // 0 reaches 3 through 1
	routes[2][0] = 3 // 2 reaches 0 through 3

	st, err := r.Reconcile(ctx, net, routes)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.Added != 2 || st.Removed != 2 || st.Kept != 10 {
		t.Fatalf("stats = %+v, want Added=2 Removed=2 Kept=10", st)
	}
	if rec[OpAdd] != 12+2 || rec[OpKeep] != 10 {
		t.Fatalf("recorded = %v", rec)
	}

	got := hostRoutes(tables[0])[net.Addresses[3]]
	if len(got) != 1 || got[0].NextHop != net.Addresses[1] || got[0].Metric != 0 {
		t.Fatalf("node 0 route to 3 = %v, want via 10.0.0.2", got)
	}
	// The replaced entry keeps the interface of the one it replaced.
	if got[0].Interface != 1 {
		t.Fatalf("replacement interface = %d, want 1", got[0].Interface)
	}
}

func TestReconcile_MissingRouteUsesPrimaryInterface(t *testing.T) {
	net, tables := testNetwork(3, 2)
	r := NewReconciler()

	if _, err := r.Reconcile(context.Background(), net, matrix.DirectRouting(3)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	for i, sr := range tables {
		for _, e := range sr.Routes()[ProtectedEntries:] {
			if e.Interface != model.PrimaryWirelessInterface || e.Metric != 0 {
				t.Fatalf("node %d fresh entry %v, want interface 2 metric 0", i, e)
			}
		}
	}
}

func TestReconcile_ReplacesStaleMetric(t *testing.T) {
	net, tables := testNetwork(2, 2)
	if err := tables[0].AddHostRoute(net.Addresses[1], net.Addresses[1], 1, 3); err != nil {
		t.Fatalf("AddHostRoute: %v", err)
	}

	st, err := NewReconciler().Reconcile(context.Background(), net, matrix.DirectRouting(2))
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if st.Removed != 1 {
		t.Fatalf("stats = %+v, want the stale entry removed", st)
	}
	got := hostRoutes(tables[0])[net.Addresses[1]]
	if len(got) != 1 || got[0].Metric != 0 || got[0].Interface != 1 {
		t.Fatalf("route = %v, want metric 0 on interface 1", got)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	net, tables := testNetwork(5, 3)
	ctx := context.Background()
	r := NewReconciler(WithRand(rand.New(rand.NewPCG(3, 9))))

	if _, err := r.InitializeDirectRoutes(ctx, net); err != nil {
		t.Fatalf("InitializeDirectRoutes: %v", err)
	}
	routes := matrix.DirectRouting(5)
	routes[0][4] = 2
	routes[1][3] = 0
	routes[4][0] = 3

	if _, err := r.Reconcile(ctx, net, routes); err != nil {
		t.Fatalf("first Reconcile: %v", err)
	}
	before := make([][]model.ForwardingEntry, len(tables))
	for i, sr := range tables {
		before[i] = sr.Routes()
	}

	st, err := r.Reconcile(ctx, net, routes)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if st.Added != 0 || st.Removed != 0 || st.Kept != 20 {
		t.Fatalf("second pass stats = %+v, want only keeps", st)
	}
	for i, sr := range tables {
		after := sr.Routes()
		if len(after) != len(before[i]) {
			t.Fatalf("node %d table length changed %d -> %d", i, len(before[i]), len(after))
		}
		for k := range after {
			if after[k] != before[i][k] {
				t.Fatalf("node %d entry %d changed %v -> %v", i, k, before[i][k], after[k])
			}
		}
	}
}

func TestReconcile_DuplicateDestinationsCollapse(t *testing.T) {
	net, tables := testNetwork(3, 2)
	dst := net.Addresses[2]

	// Two stored entries for the same destination: an older one with a
	// wrong gateway and a newer, already optimal one.
	if err := tables[0].AddHostRoute(dst, net.Addresses[1], 1, 0); err != nil {
		t.Fatalf("AddHostRoute: %v", err)
	}
	if err := tables[0].AddHostRoute(dst, dst, 1, 0); err != nil {
		t.Fatalf("AddHostRoute: %v", err)
	}
	// And two stale ones for node 1.
	for k := 0; k < 2; k++ {
		if err := tables[0].AddHostRoute(net.Addresses[1], net.Addresses[2], 1, 2); err != nil {
			t.Fatalf("AddHostRoute: %v", err)
		}
	}

	if _, err := NewReconciler().Reconcile(context.Background(), net, matrix.DirectRouting(3)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	byDest := hostRoutes(tables[0])
	for _, addr := range []netip.Addr{net.Addresses[1], net.Addresses[2]} {
		entries := byDest[addr]
		if len(entries) != 1 {
			t.Fatalf("%d entries for %s after reconcile, want 1", len(entries), addr)
		}
		if entries[0].NextHop != addr || entries[0].Metric != 0 {
			t.Fatalf("entry for %s = %v", addr, entries[0])
		}
	}
}

func TestReconcile_InvalidRouteFailsFast(t *testing.T) {
	cases := map[string]func(m matrix.Matrix[int]){
		"out of range": func(m matrix.Matrix[int]) { m[1][2] = 7 },
		"negative":     func(m matrix.Matrix[int]) { m[2][0] = -1 },
		"via self":     func(m matrix.Matrix[int]) { m[0][1] = 0 },
		"jagged":       func(m matrix.Matrix[int]) { m[1] = m[1][:2] },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			net, tables := testNetwork(3, 2)
			routes := matrix.DirectRouting(3)
			mutate(routes)

			_, err := NewReconciler().Reconcile(context.Background(), net, routes)
			if !errors.Is(err, ErrInvalidRoute) {
				t.Fatalf("Reconcile error = %v, want ErrInvalidRoute", err)
			}
			for i, sr := range tables {
				if len(sr.Routes()) != ProtectedEntries {
					t.Fatalf("node %d was modified before validation failed", i)
				}
			}
		})
	}
}

func TestReconcile_SubstrateMismatch(t *testing.T) {
	net, _ := testNetwork(3, 2)
	net.Substrates = net.Substrates[:2]
	if _, err := NewReconciler().Reconcile(context.Background(), net, matrix.DirectRouting(3)); !errors.Is(err, ErrUnknownNode) {
		t.Fatalf("error = %v, want ErrUnknownNode", err)
	}
}
