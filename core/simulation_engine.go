package core

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/signalsfoundry/linkprobe/internal/campaign"
	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/internal/routing"
	"github.com/signalsfoundry/linkprobe/kb"
	"github.com/signalsfoundry/linkprobe/model"
)

// Header and MAC timing used to compute per-hop airtime.
const (
	// IPUDPHeaderBytes is counted in received bytes on top of the payload.
	IPUDPHeaderBytes = 28
	macHeaderBytes   = 36

	phyPreamble = 36 * time.Microsecond
	sifs        = 16 * time.Microsecond
	ackDuration = 44 * time.Microsecond
	difs        = 34 * time.Microsecond
	meanBackoff = 67500 * time.Nanosecond
)

// nodeInterfaces is loopback plus one wireless device.
const nodeInterfaces = 2

type packetRecord struct {
	tx, rx    time.Duration
	delivered bool
}

type flowState struct {
	source, sink int
	spec         campaign.FlowSpec
	start, stop  time.Duration
	packets      []packetRecord
	// event runs the flow at start.
	event string
}

// SimulationEngine is the packet-level transport for placed nodes. Flows
// are constant-rate UDP streams forwarded hop by hop over each node's
// static routing table and a single shared channel.
type SimulationEngine struct {
	KB                  *kb.KnowledgeBase
	ConnectivityService *ConnectivityService

	events events.EventScheduler
	epoch  time.Time
	mcs    model.MCS
	log    logging.Logger

	tables []*routing.StaticRouting

	mu       sync.Mutex
	rng      *rand.Rand
	flows    map[model.FlowID]*flowState
	nextID   model.FlowID
	sinr     map[[2]int]float64
	busyTill time.Duration

	flowListeners []func(model.FlowID, model.FlowStats)
}

// EngineOption configures a SimulationEngine.
type EngineOption func(*SimulationEngine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(log logging.Logger) EngineOption {
	return func(se *SimulationEngine) { se.log = log }
}

// WithEngineSeed seeds packet-loss draws.
func WithEngineSeed(seed uint64) EngineOption {
	return func(se *SimulationEngine) { se.rng = rand.New(rand.NewPCG(seed, ^seed)) }
}

// NewSimulationEngine builds one routing table per placed node. Offsets
// passed to InstallFlow are relative to epoch on ev's clock.
func NewSimulationEngine(cs *ConnectivityService, ev events.EventScheduler, epoch time.Time, mcs model.MCS, opts ...EngineOption) *SimulationEngine {
	se := &SimulationEngine{
		KB:                  cs.KB,
		ConnectivityService: cs,
		events:              ev,
		epoch:               epoch,
		mcs:                 mcs,
		log:                 logging.Noop(),
		rng:                 rand.New(rand.NewPCG(1, 2)),
		flows:               make(map[model.FlowID]*flowState),
		sinr:                make(map[[2]int]float64),
	}
	for _, opt := range opts {
		opt(se)
	}
	if se.log == nil {
		se.log = logging.Noop()
	}
	subnet := cs.KB.Subnet()
	for i := 0; i < cs.KB.NodeCount(); i++ {
		se.tables = append(se.tables, routing.NewStaticRouting(subnet, nodeInterfaces))
	}
	cs.KB.Subscribe(se.onTopologyChange)
	return se
}

// onTopologyChange drops cached link SINRs once a new interferer appears.
func (se *SimulationEngine) onTopologyChange(ev kb.Event) {
	if ev.Type != kb.EventInterfererPlaced {
		return
	}
	se.mu.Lock()
	clear(se.sinr)
	se.mu.Unlock()
}

// RegisterFlowListener is called with the final counters of every flow once
// its packets have been simulated.
func (se *SimulationEngine) RegisterFlowListener(fn func(model.FlowID, model.FlowStats)) {
	se.mu.Lock()
	se.flowListeners = append(se.flowListeners, fn)
	se.mu.Unlock()
}

// Size returns the number of wireless nodes.
func (se *SimulationEngine) Size() int {
	return len(se.tables)
}

// Table returns the routing table of node i.
func (se *SimulationEngine) Table(i int) *routing.StaticRouting {
	if i < 0 || i >= len(se.tables) {
		return nil
	}
	return se.tables[i]
}

// Routing exposes every node's table to the reconciler.
func (se *SimulationEngine) Routing() routing.Network {
	var net routing.Network
	for i, t := range se.tables {
		n, _ := se.KB.GetNode(i)
		net.Addresses = append(net.Addresses, n.Address)
		net.Substrates = append(net.Substrates, t)
	}
	return net
}

// InstallFlow registers a flow and schedules it to run at start.
func (se *SimulationEngine) InstallFlow(source, sink int, spec campaign.FlowSpec, start, stop time.Duration) (model.FlowID, error) {
	n := se.Size()
	if source < 0 || source >= n || sink < 0 || sink >= n {
		return 0, fmt.Errorf("install flow %d->%d: node outside [0,%d)", source, sink, n)
	}
	if spec.RateBps <= 0 || spec.PacketSize <= 0 {
		return 0, fmt.Errorf("install flow %d->%d: rate and packet size must be positive", source, sink)
	}
	if stop <= start {
		return 0, fmt.Errorf("install flow %d->%d: empty window [%s, %s)", source, sink, start, stop)
	}

	se.mu.Lock()
	se.nextID++
	id := se.nextID
	se.flows[id] = &flowState{source: source, sink: sink, spec: spec, start: start, stop: stop}
	se.mu.Unlock()

	event := se.events.Schedule(se.epoch.Add(start), func() { se.runFlow(id) })
	se.mu.Lock()
	if fl, ok := se.flows[id]; ok {
		fl.event = event
	}
	se.mu.Unlock()
	return id, nil
}

// RemoveFlow cancels a flow that has not started and forgets it. Flows
// that already ran keep their statistics.
func (se *SimulationEngine) RemoveFlow(id model.FlowID) {
	se.mu.Lock()
	fl, ok := se.flows[id]
	if !ok || fl.packets != nil {
		se.mu.Unlock()
		return
	}
	delete(se.flows, id)
	event := fl.event
	se.mu.Unlock()

	se.events.Cancel(event)
}

// FlowStatistics reports counters for packets sent and received by the
// current simulation time. It returns false until the flow has sent.
func (se *SimulationEngine) FlowStatistics(id model.FlowID) (model.FlowStats, bool) {
	now := se.events.Now().Sub(se.epoch)

	se.mu.Lock()
	defer se.mu.Unlock()
	fl, ok := se.flows[id]
	if !ok {
		return model.FlowStats{}, false
	}
	stats := statsAt(fl, now)
	return stats, stats.TxPackets > 0
}

func statsAt(fl *flowState, now time.Duration) model.FlowStats {
	var s model.FlowStats
	first := true
	for _, p := range fl.packets {
		if p.tx > now {
			break
		}
		s.TxPackets++
		if first {
			s.FirstTx = p.tx
			first = false
		}
		if p.delivered && p.rx <= now {
			s.RxPackets++
			s.RxBytes += uint64(fl.spec.PacketSize + IPUDPHeaderBytes)
			if p.rx > s.LastRx {
				s.LastRx = p.rx
			}
		}
	}
	return s
}

// airtime is the channel occupancy of one transmission attempt.
func (se *SimulationEngine) airtime(payload int) time.Duration {
	bits := float64((payload + IPUDPHeaderBytes + macHeaderBytes) * 8)
	data := time.Duration(bits / (se.mcs.DataRateMbps * 1e6) * float64(time.Second))
	return difs + meanBackoff + phyPreamble + data + sifs + ackDuration
}

func (se *SimulationEngine) linkSINR(from, to int) float64 {
	key := [2]int{from, to}
	if v, ok := se.sinr[key]; ok {
		return v
	}
	v := math.Inf(-1)
	if lb, err := se.ConnectivityService.LinkBudget(from, to); err == nil {
		v = lb.SINRdB
	}
	se.sinr[key] = v
	return v
}

// runFlow simulates every packet of a flow. Packets leave the source at
// the application rate, queue for the shared medium at each hop and are
// dropped on a full queue, a missing route, a loop or after the retry
// limit.
func (se *SimulationEngine) runFlow(id model.FlowID) {
	se.mu.Lock()
	fl, ok := se.flows[id]
	if !ok {
		se.mu.Unlock()
		return
	}
	sinkNode, _ := se.KB.GetNode(fl.sink)
	radio := se.ConnectivityService.Radio
	attempt := se.airtime(fl.spec.PacketSize)
	interval := time.Duration(float64(fl.spec.PacketSize*8) / fl.spec.RateBps * float64(time.Second))
	if interval <= 0 {
		interval = time.Nanosecond
	}
	queueLimit := time.Duration(radio.QueueLimit) * attempt
	retries := radio.RetryLimit
	if retries < 1 {
		retries = 1
	}
	if se.busyTill < fl.start {
		se.busyTill = fl.start
	}

	drops := map[string]int{}
	for t := fl.start; t < fl.stop; t += interval {
		rec := packetRecord{tx: t}
		if queueLimit > 0 && se.busyTill-t > queueLimit {
			drops["queue"]++
			fl.packets = append(fl.packets, rec)
			continue
		}

		cur, now := fl.source, t
		ttl := se.Size()
		for {
			if cur == fl.sink {
				rec.delivered, rec.rx = true, now
				break
			}
			if ttl == 0 {
				drops["ttl"]++
				break
			}
			ttl--
			hop, ok := se.tables[cur].NextHop(sinkNode.Address)
			if !ok {
				drops["no_route"]++
				break
			}
			nextNode, known := se.KB.NodeByAddress(hop)
			if !known || nextNode.Index == cur {
				drops["no_route"]++
				break
			}
			next := nextNode.Index

			p := SuccessProbability(se.linkSINR(cur, next), se.mcs)
			sent := false
			for a := 0; a < retries; a++ {
				txStart := maxDuration(now, se.busyTill)
				se.busyTill = txStart + attempt
				now = se.busyTill
				if se.rng.Float64() < p {
					sent = true
					break
				}
			}
			if !sent {
				drops["retry"]++
				break
			}
			cur = next
		}
		fl.packets = append(fl.packets, rec)
	}
	final := statsAt(fl, fl.stop+time.Hour)
	listeners := append([]func(model.FlowID, model.FlowStats){}, se.flowListeners...)
	se.mu.Unlock()

	se.log.Debug(context.Background(), "flow simulated",
		logging.Int("flow_id", int(id)),
		logging.Int("source", fl.source),
		logging.Int("sink", fl.sink),
		logging.Int("tx_packets", int(final.TxPackets)),
		logging.Int("rx_packets", int(final.RxPackets)),
		logging.Any("drops", drops),
	)
	for _, fn := range listeners {
		fn(id, final)
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
