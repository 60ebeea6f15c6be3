package ws

import (
	"sync"
	"time"
)

// debouncer coalesces rapid resize updates: repeated calls within the
// window collapse to the last value before apply runs. A zero window
// applies immediately.
type debouncer struct {
	window time.Duration
	apply  func(cols, rows uint16)

	mu         sync.Mutex
	timer      *time.Timer
	cols, rows uint16
}

func newDebouncer(window time.Duration, apply func(cols, rows uint16)) *debouncer {
	return &debouncer{window: window, apply: apply}
}

func (d *debouncer) update(cols, rows uint16) {
	if d.window <= 0 {
		d.apply(cols, rows)
		return
	}

	d.mu.Lock()
	d.cols, d.rows = cols, rows
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
	}
	d.mu.Unlock()
}

func (d *debouncer) fire() {
	d.mu.Lock()
	cols, rows := d.cols, d.rows
	d.timer = nil
	d.mu.Unlock()
	d.apply(cols, rows)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}
