package core

import (
	"math"
	"net/netip"
	"testing"

	"github.com/signalsfoundry/linkprobe/kb"
	"github.com/signalsfoundry/linkprobe/model"
)

func newTestKB(t *testing.T, nodes ...model.Position) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase(netip.MustParsePrefix("10.0.0.0/24"))
	for _, p := range nodes {
		if _, err := store.AddNode(p); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}
	return store
}

func TestFriisPathLoss(t *testing.T) {
	cs := NewConnectivityService(newTestKB(t), DefaultWiFiTransceiver())
	// 20·log10(4π·100/λ) at 2412 MHz.
	if got := cs.PathLossDB(100); math.Abs(got-80.09) > 0.01 {
		t.Errorf("path loss at 100 m = %.3f dB, want ~80.09", got)
	}
	if d1, d2 := cs.PathLossDB(10), cs.PathLossDB(20); math.Abs(d2-d1-6.0206) > 1e-3 {
		t.Errorf("doubling distance should add 6.02 dB, got %.4f", d2-d1)
	}
}

func TestLinkBudgetWithoutInterference(t *testing.T) {
	store := newTestKB(t, model.Position{X: 10, Y: 10}, model.Position{X: 110, Y: 10})
	cs := NewConnectivityService(store, DefaultWiFiTransceiver())

	lb, err := cs.LinkBudget(0, 1)
	if err != nil {
		t.Fatalf("LinkBudget: %v", err)
	}
	if math.Abs(lb.DistanceM-100) > 1e-9 {
		t.Fatalf("distance = %v", lb.DistanceM)
	}
	if math.Abs(lb.RxPowerDBm-(16.0206-lb.PathLossDB)) > 1e-9 {
		t.Fatalf("rx power = %v", lb.RxPowerDBm)
	}
	if !math.IsInf(lb.InterferenceDBm, -1) {
		t.Fatalf("interference = %v, want -Inf", lb.InterferenceDBm)
	}
	if math.Abs(lb.SINRdB-(lb.RxPowerDBm-lb.NoiseDBm)) > 1e-9 {
		t.Fatalf("SINR %v should equal SNR without interferers", lb.SINRdB)
	}

	if _, err := cs.LinkBudget(0, 5); err == nil {
		t.Fatalf("expected error for unknown node")
	}
}

func TestInterferenceLowersSINR(t *testing.T) {
	store := newTestKB(t, model.Position{X: 10, Y: 10}, model.Position{X: 60, Y: 10})
	cs := NewConnectivityService(store, DefaultWiFiTransceiver())
	quiet, _ := cs.LinkBudget(0, 1)

	store.AddInterferer(model.Position{X: 60, Y: 40}, 10*1e-4)
	noisy, _ := cs.LinkBudget(0, 1)

	if noisy.SINRdB >= quiet.SINRdB {
		t.Fatalf("interferer should lower SINR: quiet %.2f noisy %.2f", quiet.SINRdB, noisy.SINRdB)
	}
	if math.IsInf(noisy.InterferenceDBm, -1) {
		t.Fatalf("interference not accounted")
	}
	if got := len(cs.EvaluateLinks()); got != 2 {
		t.Fatalf("EvaluateLinks = %d budgets, want 2", got)
	}
}

func TestSuccessProbability(t *testing.T) {
	mcs, _ := model.LookupMCS(3)
	if got := SuccessProbability(mcs.MinSINRdB, mcs); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("at threshold p = %v, want 0.5", got)
	}
	if SuccessProbability(mcs.MinSINRdB+10, mcs) < 0.999 {
		t.Errorf("far above threshold should almost always decode")
	}
	if SuccessProbability(mcs.MinSINRdB-10, mcs) > 0.001 {
		t.Errorf("far below threshold should almost never decode")
	}
	if got := DeliveryProbability(mcs.MinSINRdB, mcs, 2); math.Abs(got-0.75) > 1e-12 {
		t.Errorf("two attempts at threshold = %v, want 0.75", got)
	}
}
