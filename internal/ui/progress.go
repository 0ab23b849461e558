package ui

import (
	"sync"
	"time"
)

const (
	// rateInterval is the minimum spacing between throughput samples.
	rateInterval = 250 * time.Millisecond
	// rateSmoothing weights the newest sample in the moving average.
	rateSmoothing = 0.3
)

// Snapshot is a consistent view of a tracker.
type Snapshot struct {
	Stage       Stage
	Current     int
	Total       int
	Fraction    float64 // 0..1, zero while Total is unknown
	Rate        float64 // Items per second, smoothed
	Peak        float64
	ETA         time.Duration
	CurrentFile string
	Warnings    int
	Errors      int
	Elapsed     time.Duration
}

// Tracker follows one sync through its stages. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	clock func() time.Time

	started    time.Time
	stage      Stage
	current    int
	total      int
	file       string
	warnings   int
	errors     int
	sampleAt   time.Time
	sampleFrom int
	rate       float64
	peak       float64
	spark      *Sparkline
}

// NewTracker creates a tracker positioned at the scanning stage.
func NewTracker() *Tracker {
	return newTrackerWithClock(time.Now)
}

func newTrackerWithClock(clock func() time.Time) *Tracker {
	now := clock()
	return &Tracker{clock: clock, started: now, sampleAt: now, spark: NewSparkline(60)}
}

// Apply folds a progress event in. A new stage resets the counters.
func (t *Tracker) Apply(ev ProgressEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	if ev.Stage != t.stage {
		t.stage = ev.Stage
		t.current, t.sampleFrom = 0, 0
		t.rate, t.peak = 0, 0
		t.sampleAt = now
		t.spark.Clear()
	}
	if ev.Total > 0 {
		t.total = ev.Total
	}
	t.current = ev.Current
	if ev.CurrentFile != "" {
		t.file = ev.CurrentFile
	}

	elapsed := now.Sub(t.sampleAt)
	if elapsed < rateInterval || t.current <= t.sampleFrom {
		return
	}
	r := float64(t.current-t.sampleFrom) / elapsed.Seconds()
	if t.rate == 0 {
		t.rate = r
	} else {
		t.rate = rateSmoothing*r + (1-rateSmoothing)*t.rate
	}
	t.peak = max(t.peak, r)
	t.spark.Add(r)
	t.sampleAt, t.sampleFrom = now, t.current
}

// Problem counts an error event.
func (t *Tracker) Problem(ev ErrorEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.IsWarn {
		t.warnings++
	} else {
		t.errors++
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Stage:       t.stage,
		Current:     t.current,
		Total:       t.total,
		Rate:        t.rate,
		Peak:        t.peak,
		CurrentFile: t.file,
		Warnings:    t.warnings,
		Errors:      t.errors,
		Elapsed:     t.clock().Sub(t.started),
	}
	if t.total > 0 {
		s.Fraction = min(1, float64(t.current)/float64(t.total))
	}
	if t.rate > 0 && t.total > t.current {
		s.ETA = time.Duration(float64(t.total-t.current) / t.rate * float64(time.Second))
	}
	return s
}

// Sparkline renders recent throughput at width.
func (t *Tracker) Sparkline(width int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spark.Render(width)
}
