package campaign

import (
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/linkprobe/model"
)

func TestLinkTestPlanCoversEveryOrderedPair(t *testing.T) {
	const n = 10
	p := LinkTestPlan(n, DefaultTiming)
	if p.Mode != ModeLinkTest {
		t.Fatalf("mode = %s", p.Mode)
	}
	if len(p.Tasks) != n*(n-1) {
		t.Fatalf("tasks = %d, want %d", len(p.Tasks), n*(n-1))
	}

	seen := make(map[[2]int]bool)
	for k, task := range p.Tasks {
		if task.Sequence != k {
			t.Fatalf("task %d has sequence %d", k, task.Sequence)
		}
		if task.Source == task.Sink {
			t.Fatalf("self flow at %d: %s", k, task)
		}
		key := [2]int{task.Source, task.Sink}
		if seen[key] {
			t.Fatalf("duplicate pair %v", key)
		}
		seen[key] = true
	}

	// Sinks are the outer loop.
	if got := p.Tasks[0]; got != (model.FlowTask{Source: 1, Sink: 0, Sequence: 0}) {
		t.Fatalf("first task = %+v", got)
	}
	if got := p.Tasks[n-1]; got.Sink != 1 || got.Source != 0 {
		t.Fatalf("task %d = %+v, want 0->1", n-1, got)
	}
}

func TestLinkTestPlanDegenerateSizes(t *testing.T) {
	for _, n := range []int{0, 1} {
		if got := len(LinkTestPlan(n, DefaultTiming).Tasks); got != 0 {
			t.Fatalf("n=%d: %d tasks", n, got)
		}
	}
}

func TestPlanWindowsDoNotOverlap(t *testing.T) {
	p := LinkTestPlan(10, DefaultTiming)

	start, stop := p.Window(0)
	if start != 30*time.Second || stop != 31*time.Second {
		t.Fatalf("window 0 = [%s, %s)", start, stop)
	}
	for k := 0; k < len(p.Tasks)-1; k++ {
		_, stop := p.Window(k)
		next, _ := p.Window(k + 1)
		collect := p.CollectAt(k)
		if !(stop < collect && collect < next) {
			t.Fatalf("task %d: stop %s, collect %s, next start %s", k, stop, collect, next)
		}
	}
	if got := p.CollectAt(0); got != 31500*time.Millisecond {
		t.Fatalf("collect 0 = %s", got)
	}
	if got := p.StopTime(); got != 210*time.Second {
		t.Fatalf("stop time = %s", got)
	}
}

func TestSinglePairPlan(t *testing.T) {
	p, err := SinglePairPlan(10, 0, 9, DefaultTiming)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.Tasks) != 1 || p.Tasks[0].Source != 0 || p.Tasks[0].Sink != 9 {
		t.Fatalf("tasks = %+v", p.Tasks)
	}
	if got := p.StopTime(); got != 32*time.Second {
		t.Fatalf("stop time = %s", got)
	}

	for _, tc := range []struct {
		name         string
		source, sink int
	}{
		{"self", 3, 3},
		{"source out of range", 10, 1},
		{"negative sink", 0, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := SinglePairPlan(10, tc.source, tc.sink, DefaultTiming)
			if !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
			}
		})
	}
}
