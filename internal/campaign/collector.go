package campaign

import (
	"context"
	"math"

	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/internal/matrix"
	"github.com/signalsfoundry/linkprobe/model"
)

// bitsPerMegabit follows the 2^20 convention of the persisted matrices.
const bitsPerMegabit = 1 << 20

// Matrices is the throughput/PSR state of one campaign. The orchestrator
// owns it and lends it to the Collector.
type Matrices struct {
	Throughput matrix.Matrix[float64]
	PSR        matrix.Matrix[float64]
}

// NewMatrices returns zeroed n×n matrices.
func NewMatrices(n int) *Matrices {
	return &Matrices{
		Throughput: matrix.New[float64](n),
		PSR:        matrix.New[float64](n),
	}
}

// StatsSource reports cumulative per-flow statistics.
type StatsSource interface {
	FlowStatistics(id model.FlowID) (model.FlowStats, bool)
}

// ResultRecorder observes every collected flow.
type ResultRecorder interface {
	ObserveFlowResult(res model.FlowResult)
}

// Measure converts raw counters into throughput (Mbps, 2^20 convention) and
// PSR (percent), both rounded to three decimals.
//
// When LastRx - FirstTx is not positive the flow delivered nothing usable
// and both values are 0 by policy; degenerate is true in that case. With a
// positive interval but no transmitted packets, PSR is 0 rather than a
// division by zero.
func Measure(s model.FlowStats) (throughput, psr float64, degenerate bool) {
	interval := s.Interval().Seconds()
	if interval <= 0 {
		return 0, 0, true
	}
	throughput = round3(float64(s.RxBytes) * 8 / interval / bitsPerMegabit)
	if s.TxPackets > 0 {
		psr = round3(float64(s.RxPackets) / float64(s.TxPackets) * 100)
	}
	return throughput, psr, false
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Collector writes flow measurements into a Matrices value.
type Collector struct {
	matrices *Matrices
	source   StatsSource
	log      logging.Logger
	recorder ResultRecorder

	results []model.FlowResult
}

// NewCollector returns a collector writing into m.
func NewCollector(m *Matrices, source StatsSource, log logging.Logger, recorder ResultRecorder) *Collector {
	if log == nil {
		log = logging.Noop()
	}
	return &Collector{
		matrices: m,
		source:   source,
		log:      log,
		recorder: recorder,
	}
}

// Collect reads the statistics of flow id and stores the measurement at
// [task.Source][task.Sink]. A flow the transport has no statistics for is
// recorded as zero.
func (c *Collector) Collect(ctx context.Context, task model.FlowTask, id model.FlowID) model.FlowResult {
	stats, ok := c.source.FlowStatistics(id)
	if !ok {
		stats = model.FlowStats{}
	}
	thr, psr, degenerate := Measure(stats)

	res := model.FlowResult{
		Task:           task,
		FlowID:         id,
		Stats:          stats,
		ThroughputMbps: thr,
		PSR:            psr,
		Degenerate:     degenerate,
	}
	c.matrices.Throughput[task.Source][task.Sink] = thr
	c.matrices.PSR[task.Source][task.Sink] = psr
	c.results = append(c.results, res)

	if c.recorder != nil {
		c.recorder.ObserveFlowResult(res)
	}

	fields := []logging.Field{
		logging.Int("sequence", task.Sequence),
		logging.Int("source", task.Source),
		logging.Int("sink", task.Sink),
		logging.Float64("throughput_mbps", thr),
		logging.Float64("psr_percent", psr),
	}
	switch {
	case !ok:
		c.log.Warn(ctx, "no statistics for flow; recording zero", fields...)
	case degenerate:
		c.log.Info(ctx, "flow delivered nothing; recording zero", fields...)
	case stats.TxPackets == 0:
		c.log.Warn(ctx, "flow received packets without any sent; psr forced to zero", fields...)
	default:
		c.log.Debug(ctx, "flow measured", fields...)
	}
	return res
}

// Results returns the flows collected so far, in collection order.
func (c *Collector) Results() []model.FlowResult {
	return append([]model.FlowResult(nil), c.results...)
}
