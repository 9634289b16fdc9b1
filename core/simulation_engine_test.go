package core

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/signalsfoundry/linkprobe/internal/campaign"
	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/routing"
	"github.com/signalsfoundry/linkprobe/model"
	"github.com/signalsfoundry/linkprobe/timectrl"
)

var engineEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, mcsIndex int, nodes ...model.Position) (*SimulationEngine, events.EventScheduler) {
	t.Helper()
	store := newTestKB(t, nodes...)
	mcs, err := model.LookupMCS(mcsIndex)
	if err != nil {
		t.Fatalf("LookupMCS: %v", err)
	}
	ev := events.NewEventScheduler(timectrl.NewTimeController(engineEpoch, timectrl.Accelerated))
	se := NewSimulationEngine(NewConnectivityService(store, DefaultWiFiTransceiver()), ev, engineEpoch, mcs, WithEngineSeed(2000))
	if _, err := routing.NewReconciler().InitializeDirectRoutes(context.Background(), se.Routing()); err != nil {
		t.Fatalf("InitializeDirectRoutes: %v", err)
	}
	return se, ev
}

func runTo(ev events.EventScheduler, offset time.Duration) {
	ev.RunUntil(engineEpoch.Add(offset))
}

// setRoute replaces every host route node has towards dest.
func setRoute(t *testing.T, se *SimulationEngine, node int, dest, via netip.Addr) {
	t.Helper()
	table := se.Table(node)
	for i := len(table.Routes()) - 1; i >= routing.ProtectedEntries; i-- {
		if table.Routes()[i].Destination.Addr() == dest {
			if err := table.RemoveRoute(i); err != nil {
				t.Fatalf("RemoveRoute: %v", err)
			}
		}
	}
	if err := table.AddHostRoute(dest, via, 1, 0); err != nil {
		t.Fatalf("AddHostRoute: %v", err)
	}
}

func TestEngineDeliversCloseRangeFlow(t *testing.T) {
	se, ev := newTestEngine(t, 3, model.Position{X: 10, Y: 10}, model.Position{X: 20, Y: 10})
	if se.Size() != 2 || se.Table(0) == nil || se.Table(2) != nil {
		t.Fatalf("unexpected tables: size %d", se.Size())
	}

	var finals []model.FlowStats
	se.RegisterFlowListener(func(_ model.FlowID, s model.FlowStats) { finals = append(finals, s) })

	id, err := se.InstallFlow(0, 1, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	if err != nil {
		t.Fatalf("InstallFlow: %v", err)
	}
	if _, ok := se.FlowStatistics(id); ok {
		t.Fatalf("statistics before the flow starts should be unavailable")
	}

	runTo(ev, 30500*time.Millisecond)
	mid, ok := se.FlowStatistics(id)
	if !ok || mid.TxPackets == 0 {
		t.Fatalf("mid-window stats = %+v, %v", mid, ok)
	}

	runTo(ev, 31500*time.Millisecond)
	s, ok := se.FlowStatistics(id)
	if !ok {
		t.Fatalf("no statistics after the window")
	}
	if s.TxPackets != 573 {
		t.Fatalf("tx packets = %d, want 573", s.TxPackets)
	}
	if mid.TxPackets >= s.TxPackets {
		t.Fatalf("statistics should be cumulative: mid %d, final %d", mid.TxPackets, s.TxPackets)
	}
	if s.RxPackets != s.TxPackets {
		t.Fatalf("close range link lost packets: %+v", s)
	}
	if s.RxBytes != s.RxPackets*uint64(campaign.DefaultFlowSpec.PacketSize+IPUDPHeaderBytes) {
		t.Fatalf("rx bytes = %d", s.RxBytes)
	}
	if s.FirstTx != 30*time.Second || s.LastRx <= s.FirstTx || s.LastRx > 31001*time.Millisecond {
		t.Fatalf("timing first=%s last=%s", s.FirstTx, s.LastRx)
	}
	if len(finals) != 1 || finals[0].RxPackets != s.RxPackets {
		t.Fatalf("flow listener saw %+v", finals)
	}
}

func TestEngineLowRateMCSSaturatesMedium(t *testing.T) {
	se, ev := newTestEngine(t, 0, model.Position{X: 10, Y: 10}, model.Position{X: 20, Y: 10})
	id, err := se.InstallFlow(0, 1, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	if err != nil {
		t.Fatalf("InstallFlow: %v", err)
	}
	runTo(ev, 31500*time.Millisecond)
	s, _ := se.FlowStatistics(id)
	if s.LastRx < 31100*time.Millisecond {
		t.Fatalf("MCS0 airtime exceeds the send interval; last rx %s should trail the window", s.LastRx)
	}
}

func TestEngineOutOfRangeLinkDropsEverything(t *testing.T) {
	se, ev := newTestEngine(t, 3, model.Position{X: 0, Y: 0}, model.Position{X: 5000, Y: 0})
	id, _ := se.InstallFlow(0, 1, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	runTo(ev, 31500*time.Millisecond)
	s, ok := se.FlowStatistics(id)
	if !ok || s.TxPackets == 0 || s.RxPackets != 0 {
		t.Fatalf("stats = %+v, %v", s, ok)
	}
}

func TestEngineRecomputesSINRAfterInterfererPlaced(t *testing.T) {
	se, _ := newTestEngine(t, 3, model.Position{X: 10, Y: 10}, model.Position{X: 100, Y: 10})
	clean := se.linkSINR(0, 1)

	se.KB.AddInterferer(model.Position{X: 100, Y: 11}, InterfererWatts(10))
	if jammed := se.linkSINR(0, 1); jammed >= clean-10 {
		t.Fatalf("SINR with interferer = %.1f dB, without %.1f dB", jammed, clean)
	}
}

func TestEngineFollowsHostRoutes(t *testing.T) {
	se, ev := newTestEngine(t, 3,
		model.Position{X: 10, Y: 10},
		model.Position{X: 15, Y: 10},
		model.Position{X: 20, Y: 10},
	)
	addrs := se.Routing().Addresses

	// Route 0->2 through an address nobody owns.
	setRoute(t, se, 0, addrs[2], netip.MustParseAddr("10.0.0.99"))
	// Nodes 1 and 2 bounce traffic for node 0 between each other.
	setRoute(t, se, 1, addrs[0], addrs[2])
	setRoute(t, se, 2, addrs[0], addrs[1])

	blackhole, _ := se.InstallFlow(0, 2, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	loop, _ := se.InstallFlow(1, 0, campaign.DefaultFlowSpec, 32*time.Second, 33*time.Second)
	runTo(ev, 34*time.Second)

	for name, id := range map[string]model.FlowID{"blackhole": blackhole, "loop": loop} {
		s, ok := se.FlowStatistics(id)
		if !ok || s.TxPackets == 0 || s.RxPackets != 0 {
			t.Fatalf("%s: stats = %+v, %v", name, s, ok)
		}
	}
}

func TestEngineRelaysOverMultipleHops(t *testing.T) {
	se, ev := newTestEngine(t, 3,
		model.Position{X: 10, Y: 10},
		model.Position{X: 15, Y: 10},
		model.Position{X: 20, Y: 10},
	)
	addrs := se.Routing().Addresses
	setRoute(t, se, 0, addrs[2], addrs[1])
	direct, _ := se.InstallFlow(1, 2, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	relayed, _ := se.InstallFlow(0, 2, campaign.DefaultFlowSpec, 32*time.Second, 33*time.Second)
	runTo(ev, 34*time.Second)

	d, _ := se.FlowStatistics(direct)
	r, _ := se.FlowStatistics(relayed)
	if r.RxPackets == 0 || r.RxPackets != r.TxPackets {
		t.Fatalf("relayed flow lost packets: %+v", r)
	}
	if r.LastRx-32*time.Second <= d.LastRx-30*time.Second {
		t.Fatalf("two hops should take longer than one: direct %s relayed %s",
			d.LastRx-30*time.Second, r.LastRx-32*time.Second)
	}
}

func TestRemoveFlowBeforeStart(t *testing.T) {
	se, ev := newTestEngine(t, 3, model.Position{X: 10, Y: 10}, model.Position{X: 20, Y: 10})

	id, err := se.InstallFlow(0, 1, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	if err != nil {
		t.Fatalf("InstallFlow: %v", err)
	}
	if ev.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", ev.Pending())
	}
	se.RemoveFlow(id)
	se.RemoveFlow(id)
	if ev.Pending() != 0 {
		t.Fatalf("pending after remove = %d, want 0", ev.Pending())
	}

	runTo(ev, 32*time.Second)
	if _, ok := se.FlowStatistics(id); ok {
		t.Fatalf("removed flow reported statistics")
	}
}

func TestRemoveFlowKeepsFinishedFlow(t *testing.T) {
	se, ev := newTestEngine(t, 3, model.Position{X: 10, Y: 10}, model.Position{X: 20, Y: 10})

	id, err := se.InstallFlow(0, 1, campaign.DefaultFlowSpec, 30*time.Second, 31*time.Second)
	if err != nil {
		t.Fatalf("InstallFlow: %v", err)
	}
	runTo(ev, 32*time.Second)
	se.RemoveFlow(id)
	if _, ok := se.FlowStatistics(id); !ok {
		t.Fatalf("finished flow lost its statistics")
	}
}

func TestInstallFlowValidation(t *testing.T) {
	se, _ := newTestEngine(t, 3, model.Position{}, model.Position{X: 10})
	cases := []struct {
		name         string
		source, sink int
		spec         campaign.FlowSpec
		start, stop  time.Duration
	}{
		{"unknown sink", 0, 2, campaign.DefaultFlowSpec, 0, time.Second},
		{"zero rate", 0, 1, campaign.FlowSpec{PacketSize: 100}, 0, time.Second},
		{"empty window", 0, 1, campaign.DefaultFlowSpec, time.Second, time.Second},
	}
	for _, tc := range cases {
		if _, err := se.InstallFlow(tc.source, tc.sink, tc.spec, tc.start, tc.stop); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
	if _, ok := se.FlowStatistics(99); ok {
		t.Errorf("unknown flow should have no statistics")
	}
}
