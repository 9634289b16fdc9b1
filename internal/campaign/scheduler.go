package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/linkprobe/internal/events"
	"github.com/signalsfoundry/linkprobe/internal/logging"
	"github.com/signalsfoundry/linkprobe/model"
)

// ErrSchedulerBusy is returned by Start when a campaign is already in flight.
var ErrSchedulerBusy = errors.New("flow scheduler busy")

// State is the lifecycle of a FlowScheduler.
type State int

const (
	// StateIdle accepts a new campaign.
	StateIdle State = iota
	// StateScheduled has every flow installed and collection events queued.
	StateScheduled
	// StateDraining is reached once the last window has elapsed; results
	// are waiting to be persisted.
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// FlowSpec describes the constant-bit-rate traffic of every flow.
type FlowSpec struct {
	RateBps    float64
	PacketSize int
	Port       uint16
}

// DefaultFlowSpec is a 6.5 Mbps stream of 1420-byte packets to port 9.
var DefaultFlowSpec = FlowSpec{
	RateBps:    6.5e6,
	PacketSize: 1420,
	Port:       9,
}

// Transport installs flows and reports their cumulative statistics.
type Transport interface {
	StatsSource
	// InstallFlow arranges for source to send to sink during
	// [start, stop), offsets relative to the campaign epoch.
	InstallFlow(source, sink int, spec FlowSpec, start, stop time.Duration) (model.FlowID, error)
	// RemoveFlow withdraws an installed flow before it starts. Unknown
	// ids are ignored.
	RemoveFlow(id model.FlowID)
}

// CollectFunc is invoked once per task at its collection time.
type CollectFunc func(ctx context.Context, task model.FlowTask, id model.FlowID)

// FlowScheduler lays a Plan out on the simulation clock.
type FlowScheduler struct {
	transport Transport
	events    events.EventScheduler
	epoch     time.Time
	log       logging.Logger

	mu      sync.Mutex
	state   State
	plan    Plan
	pending []string
}

// NewFlowScheduler returns an idle scheduler. Window offsets are measured
// from epoch.
func NewFlowScheduler(transport Transport, ev events.EventScheduler, epoch time.Time, log logging.Logger) *FlowScheduler {
	if log == nil {
		log = logging.Noop()
	}
	return &FlowScheduler{
		transport: transport,
		events:    ev,
		epoch:     epoch,
		log:       log,
	}
}

// State reports the current lifecycle state.
func (s *FlowScheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *FlowScheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start installs every flow of plan and queues one collection per task at
// Plan.CollectAt. If any install fails, the flows installed so far are
// removed from the transport, their collections are cancelled and the
// scheduler stays idle.
func (s *FlowScheduler) Start(ctx context.Context, plan Plan, spec FlowSpec, collect CollectFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: state %s", ErrSchedulerBusy, s.state)
	}

	ids := make([]string, 0, len(plan.Tasks)+1)
	installed := make([]model.FlowID, 0, len(plan.Tasks))
	for k, task := range plan.Tasks {
		start, stop := plan.Window(k)
		flowID, err := s.transport.InstallFlow(task.Source, task.Sink, spec, start, stop)
		if err != nil {
			for _, id := range ids {
				s.events.Cancel(id)
			}
			for _, id := range installed {
				s.transport.RemoveFlow(id)
			}
			return fmt.Errorf("install flow %s: %w", task, err)
		}
		installed = append(installed, flowID)
		ids = append(ids, s.events.Schedule(s.epoch.Add(plan.CollectAt(k)), func() {
			collect(ctx, task, flowID)
		}))
		s.log.Debug(ctx, "flow scheduled",
			logging.Int("sequence", task.Sequence),
			logging.Int("source", task.Source),
			logging.Int("sink", task.Sink),
			logging.Duration("start", start),
			logging.Duration("stop", stop),
		)
	}
	ids = append(ids, s.events.Schedule(s.epoch.Add(plan.StopTime()), func() {
		s.setState(StateDraining)
	}))

	s.plan = plan
	s.pending = ids
	s.state = StateScheduled
	return nil
}

// Run drives the event loop until the campaign stop time. It returns with
// the scheduler Draining.
func (s *FlowScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateScheduled {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("run: scheduler is %s", st)
	}
	stop := s.epoch.Add(s.plan.StopTime())
	s.mu.Unlock()

	s.events.RunUntil(stop)
	if err := ctx.Err(); err != nil {
		return err
	}
	if st := s.State(); st != StateDraining {
		return fmt.Errorf("run: campaign did not reach stop time, scheduler is %s", st)
	}
	return nil
}

// Finish returns a Draining scheduler to Idle once results are persisted.
func (s *FlowScheduler) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDraining {
		s.state = StateIdle
		s.pending = nil
	}
}
