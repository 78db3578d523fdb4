package engine

import (
	"sync"
	"time"
)

// Deferrer runs fire-and-forget tasks after a delay. Pending tasks are
// abandoned by Stop; nothing is persisted.
type Deferrer struct {
	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	next    uint64
	stopped bool
}

// NewDeferrer creates an empty Deferrer.
func NewDeferrer() *Deferrer {
	return &Deferrer{timers: make(map[uint64]*time.Timer)}
}

// Schedule runs fn after delay on its own goroutine. It returns false when
// the Deferrer is already stopped.
func (d *Deferrer) Schedule(delay time.Duration, fn func()) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return false
	}
	d.next++
	id := d.next
	// the callback blocks on mu until the timer is stored
	d.timers[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		_, ok := d.timers[id]
		delete(d.timers, id)
		d.mu.Unlock()
		if ok {
			fn()
		}
	})
	return true
}

// Pending returns the number of tasks not yet run.
func (d *Deferrer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels every pending task and rejects new ones. It returns the number
// of tasks cancelled.
func (d *Deferrer) Stop() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	n := 0
	for id, t := range d.timers {
		if t.Stop() {
			n++
		}
		delete(d.timers, id)
	}
	return n
}
