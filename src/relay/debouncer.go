package relay

import (
	"sync"
	"time"

	"traderobot/src/clock"
	"traderobot/src/model"
)

// Debouncer coalesces trade updates per trade ID. The first update in a quiet period
// opens a window; whatever copy is newest when the window closes is emitted. Later
// updates never extend the window, so a steady stream still flushes every interval
// and the last state always goes out.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration
	emit   func(model.Trade)

	mu      sync.Mutex
	pending map[string]model.Trade
	timers  map[string]clock.Timer
}

func NewDebouncer(clk clock.Clock, window time.Duration, emit func(model.Trade)) *Debouncer {
	if clk == nil {
		clk = clock.Real()
	}
	return &Debouncer{
		clock:   clk,
		window:  window,
		emit:    emit,
		pending: map[string]model.Trade{},
		timers:  map[string]clock.Timer{},
	}
}

func (d *Debouncer) Push(t model.Trade) {
	if d.window <= 0 {
		d.emit(t)
		return
	}
	d.mu.Lock()
	d.pending[t.ID] = t
	if _, scheduled := d.timers[t.ID]; !scheduled {
		id := t.ID
		d.timers[id] = d.clock.AfterFunc(d.window, func() { d.fire(id) })
	}
	d.mu.Unlock()
}

func (d *Debouncer) fire(id string) {
	d.mu.Lock()
	t, ok := d.pending[id]
	delete(d.pending, id)
	delete(d.timers, id)
	d.mu.Unlock()
	if ok {
		d.emit(t)
	}
}

// Flush emits everything pending immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	out := make([]model.Trade, 0, len(d.pending))
	for id, t := range d.pending {
		out = append(out, t)
		if timer := d.timers[id]; timer != nil {
			timer.Stop()
		}
	}
	d.pending = map[string]model.Trade{}
	d.timers = map[string]clock.Timer{}
	d.mu.Unlock()
	for _, t := range out {
		d.emit(t)
	}
}

// Pending returns the number of trades waiting for their window to close.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
