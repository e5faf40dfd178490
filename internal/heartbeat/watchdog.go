package heartbeat

import (
	"sync"
	"time"
)

// Watchdog calls onExpire once if it is not renewed within its timeout.
type Watchdog struct {
	timeout  time.Duration
	onExpire func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64 // invalidates callbacks of replaced timers
	armed bool
}

// NewWatchdog returns a disarmed watchdog. onExpire runs on its own goroutine
// without any watchdog lock held.
func NewWatchdog(timeout time.Duration, onExpire func()) *Watchdog {
	return &Watchdog{timeout: timeout, onExpire: onExpire}
}

// Arm starts the countdown, restarting it if already running.
func (w *Watchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restartLocked()
}

// Renew restarts a running countdown. It reports false, and does nothing,
// when the watchdog is not armed.
func (w *Watchdog) Renew() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.armed {
		return false
	}
	w.restartLocked()
	return true
}

// Stop disarms the watchdog. A pending expiry will not fire.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gen++
	w.armed = false
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}

// Armed reports whether the timer is running.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) restartLocked() {
	w.gen++
	w.armed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	gen := w.gen
	w.timer = time.AfterFunc(w.timeout, func() { w.expire(gen) })
}

func (w *Watchdog) expire(gen uint64) {
	w.mu.Lock()
	if gen != w.gen || !w.armed {
		w.mu.Unlock()
		return
	}
	w.armed = false
	w.timer = nil
	w.mu.Unlock()

	w.onExpire()
}
