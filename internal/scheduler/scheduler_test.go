package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestManualAfterFuncFiresOnce(t *testing.T) {
	m := NewManual(time.Unix(0, 0).UTC())
	fired := 0
	m.AfterFunc(time.Second, func() { fired++ })

	m.Advance(999 * time.Millisecond)
	if fired != 0 {
		t.Fatal("task fired early")
	}
	m.Advance(time.Millisecond)
	if fired != 1 {
		t.Fatalf("task should fire at its deadline, fired=%d", fired)
	}
	m.Advance(time.Hour)
	if fired != 1 {
		t.Fatal("one-shot task fired twice")
	}
}

func TestManualStopCancels(t *testing.T) {
	m := NewManual(time.Unix(0, 0).UTC())
	fired := false
	task := m.AfterFunc(time.Second, func() { fired = true })

	if !task.Stop() {
		t.Fatal("first stop should report active task")
	}
	if task.Stop() {
		t.Fatal("second stop should report inactive task")
	}
	m.Advance(2 * time.Second)
	if fired {
		t.Fatal("stopped task must not fire")
	}
}

func TestManualEveryAndClock(t *testing.T) {
	start := time.Unix(100, 0).UTC()
	m := NewManual(start)
	var seen []time.Time
	task := m.Every(time.Second, func() { seen = append(seen, m.Now()) })

	m.Advance(3500 * time.Millisecond)
	task.Stop()

	if len(seen) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(seen))
	}
	for i, ts := range seen {
		want := start.Add(time.Duration(i+1) * time.Second)
		if !ts.Equal(want) {
			t.Fatalf("tick %d observed clock %s, want %s", i, ts, want)
		}
	}
	if !m.Now().Equal(start.Add(3500 * time.Millisecond)) {
		t.Fatal("clock should land on the advance target")
	}
	if m.Pending() != 0 {
		t.Fatal("stopped periodic task should be removed")
	}
}

func TestManualTaskScheduledFromCallback(t *testing.T) {
	m := NewManual(time.Unix(0, 0).UTC())
	fired := 0
	m.AfterFunc(time.Second, func() {
		m.AfterFunc(time.Second, func() { fired++ })
	})
	m.Advance(2 * time.Second)
	if fired != 1 {
		t.Fatalf("nested task should fire inside the same advance, fired=%d", fired)
	}
}

func TestRealAfterFuncAndStop(t *testing.T) {
	s := New(zerolog.Nop())
	done := make(chan struct{})
	s.AfterFunc(5*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}

	var ticks int32
	task := s.Every(2*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })
	time.Sleep(20 * time.Millisecond)
	if !task.Stop() {
		t.Fatal("first stop should succeed")
	}
	if atomic.LoadInt32(&ticks) == 0 {
		t.Fatal("periodic task never ran")
	}
}
