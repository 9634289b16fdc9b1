package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/linkprobe/kb"
	"github.com/signalsfoundry/linkprobe/model"
)

// speedOfLight in metres per second.
const speedOfLight = 299792458.0

// errorSlopeDB controls how sharply per-attempt success falls off around
// an MCS threshold.
const errorSlopeDB = 1.0

// LinkBudget is the radio view of one directed node pair.
type LinkBudget struct {
	Source, Sink    int
	DistanceM       float64
	PathLossDB      float64
	RxPowerDBm      float64
	InterferenceDBm float64
	NoiseDBm        float64
	SINRdB          float64
}

// ConnectivityService evaluates the shared channel between placed nodes.
// Every node uses the same transceiver; interferers radiate continuously
// and raise the noise floor at each receiver.
type ConnectivityService struct {
	KB    *kb.KnowledgeBase
	Radio TransceiverModel
}

func NewConnectivityService(store *kb.KnowledgeBase, radio TransceiverModel) *ConnectivityService {
	return &ConnectivityService{KB: store, Radio: radio}
}

// PathLossDB is the Friis free-space loss at the radio frequency.
func (cs *ConnectivityService) PathLossDB(distanceM float64) float64 {
	distanceM = math.Max(distanceM, MinDistanceM)
	lambda := speedOfLight / (cs.Radio.FrequencyMHz * 1e6)
	return 20 * math.Log10(4*math.Pi*distanceM/lambda)
}

// InterferenceMW is the summed interferer power received at pos.
func (cs *ConnectivityService) InterferenceMW(pos Vec3) float64 {
	total := 0.0
	for _, in := range cs.KB.ListInterferers() {
		if in.PowerWatts <= 0 {
			continue
		}
		txDBm := wattsToDBm(in.PowerWatts)
		rxDBm := txDBm + cs.Radio.GainRxDBi - cs.PathLossDB(linkDistance(FromPosition(in.Position), pos))
		total += dBmToMW(rxDBm)
	}
	return total
}

// LinkBudget evaluates transmissions from source to sink.
func (cs *ConnectivityService) LinkBudget(source, sink int) (LinkBudget, error) {
	tx, ok := cs.KB.GetNode(source)
	if !ok {
		return LinkBudget{}, fmt.Errorf("link budget: unknown source node %d", source)
	}
	rx, ok := cs.KB.GetNode(sink)
	if !ok {
		return LinkBudget{}, fmt.Errorf("link budget: unknown sink node %d", sink)
	}

	txPos, rxPos := FromPosition(tx.Position), FromPosition(rx.Position)
	lb := LinkBudget{
		Source:    source,
		Sink:      sink,
		DistanceM: txPos.DistanceTo(rxPos),
		NoiseDBm:  cs.Radio.NoiseFloorDBm(),
	}
	lb.PathLossDB = cs.PathLossDB(lb.DistanceM)
	lb.RxPowerDBm = cs.Radio.TxPowerDBm + cs.Radio.GainTxDBi + cs.Radio.GainRxDBi - lb.PathLossDB

	interference := cs.InterferenceMW(rxPos)
	lb.InterferenceDBm = math.Inf(-1)
	if interference > 0 {
		lb.InterferenceDBm = mwToDBm(interference)
	}
	lb.SINRdB = lb.RxPowerDBm - mwToDBm(interference+dBmToMW(lb.NoiseDBm))
	return lb, nil
}

// EvaluateLinks returns the budget of every directed pair, source-major.
func (cs *ConnectivityService) EvaluateLinks() []LinkBudget {
	n := cs.KB.NodeCount()
	out := make([]LinkBudget, 0, n*(n-1))
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if lb, err := cs.LinkBudget(i, j); err == nil {
				out = append(out, lb)
			}
		}
	}
	return out
}

// SuccessProbability is the chance that one transmission attempt at sinrDB
// decodes under mcs. It is 0.5 at the MCS threshold.
func SuccessProbability(sinrDB float64, mcs model.MCS) float64 {
	return 1 / (1 + math.Exp(-(sinrDB-mcs.MinSINRdB)/errorSlopeDB))
}

// DeliveryProbability folds MAC retries into SuccessProbability.
func DeliveryProbability(sinrDB float64, mcs model.MCS, attempts int) float64 {
	if attempts < 1 {
		attempts = 1
	}
	return 1 - math.Pow(1-SuccessProbability(sinrDB, mcs), float64(attempts))
}

func wattsToDBm(w float64) float64 { return 10*math.Log10(w) + 30 }
func dBmToMW(dbm float64) float64  { return math.Pow(10, dbm/10) }
func mwToDBm(mw float64) float64   { return 10 * math.Log10(mw) }
