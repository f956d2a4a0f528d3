// Package stats records per-operation latency distributions.
//
// Each operation keeps running count/sum/min/max and a DDSketch for
// percentiles, so quantiles stay within 1% relative error regardless of how
// many observations are made.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Operation names used by the bucket.
const (
	OpWrite    = "write"
	OpExpand   = "expand"
	OpCompress = "compress"
	OpRead     = "read"
)

// DefaultAccuracy is the relative accuracy of the quantile sketches.
const DefaultAccuracy = 0.01

// opStats maintains running statistics for a single operation.
type opStats struct {
	count  int64
	errors int64
	sum    float64
	min    float64
	max    float64

	// nil if the sketch could not be created
	sketch *ddsketch.DDSketch
}

func newOpStats(accuracy float64) *opStats {
	o := &opStats{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	sketch, err := ddsketch.NewDefaultDDSketch(accuracy)
	if err == nil {
		o.sketch = sketch
	}
	return o
}

func (o *opStats) add(ms float64) {
	o.count++
	o.sum += ms
	if ms < o.min {
		o.min = ms
	}
	if ms > o.max {
		o.max = ms
	}
	if o.sketch != nil {
		// Sketches reject negatives; durations never are.
		_ = o.sketch.Add(ms)
	}
}

// OpSnapshot is a point-in-time view of one operation. Durations are in
// milliseconds.
type OpSnapshot struct {
	Op     string  `json:"op"`
	Count  int64   `json:"count"`
	Errors int64   `json:"errors"`
	SumMs  float64 `json:"sum_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P90Ms  float64 `json:"p90_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Recorder collects latency observations. It is safe for concurrent use.
// A nil *Recorder discards everything.
type Recorder struct {
	mu       sync.Mutex
	accuracy float64
	ops      map[string]*opStats
}

// NewRecorder creates a recorder with DefaultAccuracy.
func NewRecorder() *Recorder {
	return NewRecorderWithAccuracy(DefaultAccuracy)
}

// NewRecorderWithAccuracy creates a recorder with a custom sketch accuracy.
func NewRecorderWithAccuracy(accuracy float64) *Recorder {
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = DefaultAccuracy
	}
	return &Recorder{
		accuracy: accuracy,
		ops:      make(map[string]*opStats),
	}
}

func (r *Recorder) get(op string) *opStats {
	o, ok := r.ops[op]
	if !ok {
		o = newOpStats(r.accuracy)
		r.ops[op] = o
	}
	return o
}

// Observe records one operation that took d. A non-nil err counts as a
// failure and is not added to the latency distribution.
func (r *Recorder) Observe(op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	o := r.get(op)
	if err != nil {
		o.errors++
		return
	}
	o.add(float64(d) / float64(time.Millisecond))
}

// Since is Observe with the duration measured from start.
func (r *Recorder) Since(op string, start time.Time, err error) {
	r.Observe(op, time.Since(start), err)
}

// Snapshot returns the statistics of every operation seen so far, sorted by
// operation name.
func (r *Recorder) Snapshot() []OpSnapshot {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]OpSnapshot, 0, len(r.ops))
	for name, o := range r.ops {
		s := OpSnapshot{
			Op:     name,
			Count:  o.count,
			Errors: o.errors,
			SumMs:  o.sum,
		}
		if o.count > 0 {
			s.MinMs = o.min
			s.MaxMs = o.max
			s.AvgMs = o.sum / float64(o.count)
		}
		if o.sketch != nil && o.count > 0 {
			s.P50Ms, _ = o.sketch.GetValueAtQuantile(0.50)
			s.P90Ms, _ = o.sketch.GetValueAtQuantile(0.90)
			s.P99Ms, _ = o.sketch.GetValueAtQuantile(0.99)
		}
		out = append(out, s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Op < out[j].Op })
	return out
}

// Get returns the snapshot of a single operation.
func (r *Recorder) Get(op string) (OpSnapshot, bool) {
	for _, s := range r.Snapshot() {
		if s.Op == op {
			return s, true
		}
	}
	return OpSnapshot{}, false
}

// Reset discards all observations.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	// DDSketch has no Clear method, so sketches are recreated lazily.
	r.ops = make(map[string]*opStats)
}
