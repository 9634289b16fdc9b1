package campaign

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/routing"
	"github.com/signalsfoundry/linkprobe/model"
	"github.com/signalsfoundry/linkprobe/timectrl"
)

var testEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type installedFlow struct {
	source, sink int
	start, stop  time.Duration
}

// fakeNetwork delivers 100-k packets for a flow from s to t, where k is
// chosen by deliver. A flow whose deliver result is negative never reports
// statistics.
type fakeNetwork struct {
	mu      sync.Mutex
	n       int
	flows   []installedFlow
	deliver func(source, sink int) int
	failAt  int
	removed []model.FlowID

	routing routing.Network
	tables  []*routing.StaticRouting
}

func newFakeNetwork(n int) *fakeNetwork {
	f := &fakeNetwork{
		n:       n,
		failAt:  -1,
		deliver: func(source, sink int) int { return 100 - source - sink },
	}
	subnet := netip.MustParsePrefix("10.0.0.0/24")
	for i := 0; i < n; i++ {
		sr := routing.NewStaticRouting(subnet, 2)
		f.tables = append(f.tables, sr)
		f.routing.Addresses = append(f.routing.Addresses, netip.MustParseAddr(fmt.Sprintf("10.0.0.%d", i+1)))
		f.routing.Substrates = append(f.routing.Substrates, sr)
	}
	return f
}

func (f *fakeNetwork) Size() int                { return f.n }
func (f *fakeNetwork) Routing() routing.Network { return f.routing }

func (f *fakeNetwork) InstallFlow(source, sink int, _ FlowSpec, start, stop time.Duration) (model.FlowID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.flows) == f.failAt {
		return 0, fmt.Errorf("install refused")
	}
	f.flows = append(f.flows, installedFlow{source, sink, start, stop})
	return model.FlowID(len(f.flows)), nil
}

func (f *fakeNetwork) RemoveFlow(id model.FlowID) {
	f.mu.Lock()
	f.removed = append(f.removed, id)
	f.mu.Unlock()
}

func (f *fakeNetwork) FlowStatistics(id model.FlowID) (model.FlowStats, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == 0 || int(id) > len(f.flows) {
		return model.FlowStats{}, false
	}
	fl := f.flows[id-1]
	rx := f.deliver(fl.source, fl.sink)
	if rx < 0 {
		return model.FlowStats{}, false
	}
	return model.FlowStats{
		TxPackets: 100,
		RxPackets: uint64(rx),
		RxBytes:   uint64(rx) * 1448,
		FirstTx:   fl.start,
		LastRx:    fl.stop,
	}, true
}

func newTestScheduler() events.EventScheduler {
	return events.NewEventScheduler(timectrl.NewTimeController(testEpoch, timectrl.Accelerated))
}

type recordingMetrics struct {
	mu       sync.Mutex
	results  int
	ops      map[string]int
	started  []string
	simTimes []time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: make(map[string]int)}
}

func (r *recordingMetrics) ObserveFlowResult(model.FlowResult) {
	r.mu.Lock()
	r.results++
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveRouteOperations(op string, n int) {
	r.mu.Lock()
	r.ops[op] += n
	r.mu.Unlock()
}

func (r *recordingMetrics) CampaignStarted(mode string, flows int) {
	r.mu.Lock()
	r.started = append(r.started, fmt.Sprintf("%s/%d", mode, flows))
	r.mu.Unlock()
}

func (r *recordingMetrics) ObserveSimTime(d time.Duration) {
	r.mu.Lock()
	r.simTimes = append(r.simTimes, d)
	r.mu.Unlock()
}
