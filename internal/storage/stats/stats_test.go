package stats

import (
	"fmt"
	"math"
	"testing"
	"time"
)

func TestRecorderBasic(t *testing.T) {
	r := NewRecorder()

	for i := 1; i <= 100; i++ {
		r.Observe(OpWrite, time.Duration(i)*time.Millisecond, nil)
	}
	r.Observe(OpWrite, time.Second, fmt.Errorf("boom"))

	s, ok := r.Get(OpWrite)
	if !ok {
		t.Fatal("expected write stats")
	}
	if s.Count != 100 {
		t.Errorf("expected count 100, got %d", s.Count)
	}
	if s.Errors != 1 {
		t.Errorf("expected 1 error, got %d", s.Errors)
	}
	if s.MinMs != 1 || s.MaxMs != 100 {
		t.Errorf("expected min 1 max 100, got %v %v", s.MinMs, s.MaxMs)
	}
	if s.AvgMs != 50.5 {
		t.Errorf("expected avg 50.5, got %v", s.AvgMs)
	}

	// 1% relative accuracy plus rank granularity.
	if math.Abs(s.P50Ms-50) > 2 {
		t.Errorf("p50 out of range: %v", s.P50Ms)
	}
	if math.Abs(s.P99Ms-99) > 3 {
		t.Errorf("p99 out of range: %v", s.P99Ms)
	}
}

func TestSnapshotSorted(t *testing.T) {
	r := NewRecorder()
	r.Observe(OpWrite, time.Millisecond, nil)
	r.Observe(OpCompress, time.Millisecond, nil)
	r.Observe(OpExpand, time.Millisecond, nil)

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(snap))
	}
	want := []string{OpCompress, OpExpand, OpWrite}
	for i, s := range snap {
		if s.Op != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], s.Op)
		}
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Observe(OpWrite, time.Millisecond, nil)
	r.Since(OpWrite, time.Now(), nil)
	r.Reset()
	if r.Snapshot() != nil {
		t.Error("nil recorder should have no snapshot")
	}
}

func TestReset(t *testing.T) {
	r := NewRecorder()
	r.Observe(OpWrite, time.Millisecond, nil)
	r.Reset()

	if _, ok := r.Get(OpWrite); ok {
		t.Error("expected no stats after reset")
	}
}

func TestErrorsOnly(t *testing.T) {
	r := NewRecorder()
	r.Observe(OpExpand, time.Millisecond, fmt.Errorf("x"))

	s, _ := r.Get(OpExpand)
	if s.Count != 0 || s.Errors != 1 {
		t.Errorf("unexpected snapshot %+v", s)
	}
	if s.P50Ms != 0 || s.MinMs != 0 {
		t.Errorf("empty distribution should report zeros: %+v", s)
	}
}
