package campaign

import (
	"math"

	"github.com/influxdata/tdigest"

	"github.com/signalsfoundry/linkprobe/model"
)

// Summary condenses the measured flows of one campaign. Degenerate flows
// are counted but excluded from the throughput distribution.
type Summary struct {
	Flows      int
	Degenerate int

	MinThroughput float64
	MaxThroughput float64
	P50Throughput float64
	P90Throughput float64
	MeanPSR       float64
}

// Summarize builds a Summary from collected results.
func Summarize(results []model.FlowResult) Summary {
	s := Summary{Flows: len(results)}
	td := tdigest.NewWithCompression(100)

	var psrSum float64
	measured := 0
	s.MinThroughput = math.Inf(1)
	s.MaxThroughput = math.Inf(-1)
	for _, r := range results {
		if r.Degenerate {
			s.Degenerate++
			continue
		}
		measured++
		td.Add(r.ThroughputMbps, 1)
		psrSum += r.PSR
		s.MinThroughput = math.Min(s.MinThroughput, r.ThroughputMbps)
		s.MaxThroughput = math.Max(s.MaxThroughput, r.ThroughputMbps)
	}
	if measured == 0 {
		s.MinThroughput, s.MaxThroughput = 0, 0
		return s
	}
	s.P50Throughput = round3(td.Quantile(0.5))
	s.P90Throughput = round3(td.Quantile(0.9))
	s.MeanPSR = round3(psrSum / float64(measured))
	return s
}
