package model

import (
	"fmt"
	"time"
)

// FlowID is the opaque classifier handed out by the transport layer.
type FlowID uint32

// FlowTask is one scheduled measurement. Sequence determines the temporal
// ordering of the measurement window.
type FlowTask struct {
	Source   int
	Sink     int
	Sequence int
}

func (t FlowTask) String() string {
	return fmt.Sprintf("flow#%d %d->%d", t.Sequence, t.Source, t.Sink)
}

// FlowStats are the cumulative counters reported by the transport layer for
// one flow. Times are offsets from the start of the simulation.
type FlowStats struct {
	TxPackets uint64
	RxPackets uint64
	RxBytes   uint64
	FirstTx   time.Duration
	LastRx    time.Duration
}

// Interval returns LastRx - FirstTx. It is zero or negative when nothing
// was received.
func (s FlowStats) Interval() time.Duration {
	return s.LastRx - s.FirstTx
}

// FlowResult is the normalized outcome of a single measured flow.
type FlowResult struct {
	Task FlowTask
	// FlowID is the transport classifier the stats were read from.
	FlowID FlowID
	Stats  FlowStats

	// ThroughputMbps uses the 2^20 bits-per-megabit convention.
	ThroughputMbps float64
	// PSR is a percentage in [0, 100].
	PSR float64
	// Degenerate is set when the values are the zero policy substitute
	// rather than a measurement.
	Degenerate bool
}
