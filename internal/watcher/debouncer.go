package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces bursts of events per path and emits them as one
// batch once no event has arrived for the window. Sequences collapse as:
//   - CREATE then MODIFY is CREATE
//   - CREATE then DELETE is dropped
//   - MODIFY then DELETE is DELETE
//   - DELETE then CREATE is MODIFY
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
	stopped bool

	output chan []FileEvent
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]FileEvent),
		output:  make(chan []FileEvent, 16),
	}
}

// Add records an event and restarts the quiet window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		op, keep := coalesce(prev.Operation, ev.Operation)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			ev.Operation = op
			d.pending[ev.Path] = ev
		}
	} else {
		d.pending[ev.Path] = ev
	}
	d.schedule(d.window)
}

func coalesce(prev, next Operation) (Operation, bool) {
	if prev == OpIgnoreChange || next == OpIgnoreChange {
		return OpIgnoreChange, true
	}
	switch prev {
	case OpCreate:
		switch next {
		case OpModify:
			return OpCreate, true
		case OpDelete, OpRename:
			return 0, false
		}
	case OpDelete, OpRename:
		if next == OpCreate || next == OpModify {
			return OpModify, true
		}
	}
	return next, true
}

func (d *Debouncer) schedule(after time.Duration) {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(after, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })

	select {
	case d.output <- batch:
		d.pending = make(map[string]FileEvent)
	default:
		// Consumer is busy syncing; keep the events and try again later.
		slog.Debug("debounce_output_busy", slog.Int("pending", len(batch)))
		d.schedule(d.window)
	}
}

// Output delivers batches sorted by path. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Pending returns the number of paths waiting for their window to close.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop discards pending events and closes Output. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
