package timectrl

import (
	"testing"
	"time"
)

func TestTimeControllerAdvanceIsMonotonic(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, Accelerated)

	var seen []time.Time
	tc.AddListener(func(now time.Time) { seen = append(seen, now) })

	tc.AdvanceTo(start.Add(10 * time.Second))
	tc.AdvanceTo(start.Add(5 * time.Second))
	tc.AdvanceTo(start.Add(10 * time.Second))

	if got := tc.Since(); got != 10*time.Second {
		t.Fatalf("Since() = %v, want 10s", got)
	}
	if len(seen) != 1 {
		t.Fatalf("listener calls = %d, want 1", len(seen))
	}
}

func TestTimeControllerRealTimePaces(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, RealTime)

	var slept time.Duration
	tc.sleep = func(d time.Duration) { slept += d }

	tc.AdvanceTo(start.Add(1500 * time.Millisecond))
	tc.AdvanceTo(start.Add(2 * time.Second))

	if slept != 2*time.Second {
		t.Fatalf("slept = %v, want 2s", slept)
	}
}

func TestTimeControllerAcceleratedDoesNotSleep(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, Accelerated)
	tc.sleep = func(time.Duration) { t.Fatalf("accelerated mode must not sleep") }

	tc.AdvanceTo(start.Add(time.Hour))
	if got := tc.Now(); !got.Equal(start.Add(time.Hour)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(time.Hour))
	}
}
