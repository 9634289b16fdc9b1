// Package campaign schedules pairwise measurement flows, turns their
// delivery statistics into throughput and PSR matrices, and decides which
// campaign to run against the persisted results.
package campaign

import (
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/linkprobe/model"
)

// ErrInvalidConfiguration indicates a campaign that cannot be built, such as
// a single-pair campaign whose source and sink are the same node.
var ErrInvalidConfiguration = errors.New("invalid campaign configuration")

// Mode selects the campaign shape.
type Mode int

const (
	// ModeSinglePair measures one source->sink flow.
	ModeSinglePair Mode = iota
	// ModeLinkTest sweeps every ordered pair.
	ModeLinkTest
)

func (m Mode) String() string {
	switch m {
	case ModeSinglePair:
		return "single_pair"
	case ModeLinkTest:
		return "link_test"
	default:
		return "unknown"
	}
}

// Timing lays out measurement windows on the simulation clock.
type Timing struct {
	InitialDelay       time.Duration
	SimulationDuration time.Duration
	InterFlowGap       time.Duration
}

// DefaultTiming is 30 s of settling, then one second per flow with one
// second between flows.
var DefaultTiming = Timing{
	InitialDelay:       30 * time.Second,
	SimulationDuration: time.Second,
	InterFlowGap:       time.Second,
}

// Plan is the ordered list of flows of one campaign.
type Plan struct {
	Mode   Mode
	Timing Timing
	Tasks  []model.FlowTask
}

// LinkTestPlan sweeps every sink and, for each, every other source:
// n·(n-1) tasks in total.
func LinkTestPlan(n int, timing Timing) Plan {
	p := Plan{Mode: ModeLinkTest, Timing: timing}
	if n > 1 {
		p.Tasks = make([]model.FlowTask, 0, n*(n-1))
	}
	for sink := 0; sink < n; sink++ {
		for source := 0; source < n; source++ {
			if source == sink {
				continue
			}
			p.Tasks = append(p.Tasks, model.FlowTask{
				Source:   source,
				Sink:     sink,
				Sequence: len(p.Tasks),
			})
		}
	}
	return p
}

// SinglePairPlan measures source->sink once. It fails with
// ErrInvalidConfiguration when source == sink or either index is outside
// [0, n).
func SinglePairPlan(n, source, sink int, timing Timing) (Plan, error) {
	p := Plan{Mode: ModeSinglePair, Timing: timing}
	if source == sink {
		return p, fmt.Errorf("%w: source and sink are both node %d", ErrInvalidConfiguration, source)
	}
	if source < 0 || source >= n || sink < 0 || sink >= n {
		return p, fmt.Errorf("%w: pair %d->%d outside [0,%d)", ErrInvalidConfiguration, source, sink, n)
	}
	p.Tasks = []model.FlowTask{{Source: source, Sink: sink}}
	return p, nil
}

func (p Plan) slot() time.Duration {
	return p.Timing.SimulationDuration + p.Timing.InterFlowGap
}

// Window returns the [start, stop) offsets of task k.
func (p Plan) Window(k int) (start, stop time.Duration) {
	start = p.Timing.InitialDelay + time.Duration(k)*p.slot()
	return start, start + p.Timing.SimulationDuration
}

// CollectAt is the offset at which statistics for task k are read: half an
// inter-flow gap after its window closes, and before task k+1 starts.
func (p Plan) CollectAt(k int) time.Duration {
	_, stop := p.Window(k)
	return stop + p.Timing.InterFlowGap/2
}

// StopTime is the offset at which the campaign ends.
func (p Plan) StopTime() time.Duration {
	return p.Timing.InitialDelay + time.Duration(len(p.Tasks))*p.slot()
}
