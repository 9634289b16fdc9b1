package events

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/linkprobe/timectrl"
)

// Clock is a SimClock that the loop is allowed to move forward.
type Clock interface {
	timectrl.SimClock
	AdvanceTo(t time.Time)
}

// EventScheduler is a timestamp-keyed task queue processed by a single
// threaded loop. Callbacks run in time order; callbacks scheduled for the
// same instant run in the order they were scheduled.
type EventScheduler interface {
	// Schedule registers f to run at simulation time 'at' and returns an
	// id that can be passed to Cancel.
	Schedule(at time.Time, f func()) (id string)

	// Cancel is a no-op if the id is unknown or the event already ran.
	Cancel(id string)

	// Now returns the current simulation time of the underlying clock.
	Now() time.Time

	// RunDue executes all events whose time is <= Now() without moving
	// the clock. Already-run events never run again.
	RunDue()

	// RunUntil advances the clock from event to event, running each one,
	// until no event remains at or before stop. The clock ends at stop.
	RunUntil(stop time.Time)

	// Pending returns the number of events that have not run or been cancelled.
	Pending() int
}

type scheduledEvent struct {
	id        string
	seq       uint64
	when      time.Time
	f         func()
	cancelled bool
}

type eventScheduler struct {
	clock Clock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by (when, seq)
	index   map[string]*scheduledEvent
}

// NewEventScheduler creates an event scheduler driving the given clock.
func NewEventScheduler(clock Clock) EventScheduler {
	return &eventScheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

func (s *eventScheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		seq:  s.counter,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev

	return id
}

// addEventLocked inserts after every event with the same or an earlier time.
// Caller must hold s.mu.
func (s *eventScheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

func (s *eventScheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}
	ev.cancelled = true
	delete(s.index, id)
}

func (s *eventScheduler) Now() time.Time {
	return s.clock.Now()
}

func (s *eventScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// popDueLocked removes and returns the earliest live event at or before
// limit, or nil. Caller must hold s.mu.
func (s *eventScheduler) popDueLocked(limit time.Time) *scheduledEvent {
	for len(s.events) > 0 {
		ev := s.events[0]
		if ev.cancelled {
			s.events = s.events[1:]
			continue
		}
		if ev.when.After(limit) {
			return nil
		}
		s.events = s.events[1:]
		delete(s.index, ev.id)
		return ev
	}
	return nil
}

func (s *eventScheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}
		// Callbacks run outside the lock so they may schedule more events.
		if ev.f != nil {
			ev.f()
		}
	}
}

func (s *eventScheduler) RunUntil(stop time.Time) {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(stop)
		s.mu.Unlock()
		if ev == nil {
			break
		}
		s.clock.AdvanceTo(ev.when)
		if ev.f != nil {
			ev.f()
		}
	}
	s.clock.AdvanceTo(stop)
}
