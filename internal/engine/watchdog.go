package engine

import (
	"sync"
	"time"
)

const defaultSilenceWindow = 4 * time.Second

// SilenceWatchdog is a single-shot timer rearmed on every speech event
// during capture. When the window elapses without a rearm, the expiry
// callback fires with a generation number; a fire whose generation is no
// longer current must be ignored by the receiver.
//
// Safe for concurrent use, though in practice only the engine loop and the
// timer goroutine touch it.
type SilenceWatchdog struct {
	window time.Duration
	expire func(gen uint64)

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
}

// NewSilenceWatchdog creates a watchdog. A non-positive window selects the
// 4 second default. expire is called from a timer goroutine.
func NewSilenceWatchdog(window time.Duration, expire func(gen uint64)) *SilenceWatchdog {
	if window <= 0 {
		window = defaultSilenceWindow
	}
	return &SilenceWatchdog{window: window, expire: expire}
}

// Arm starts (or restarts) the window. Any previously pending expiry is
// invalidated.
func (w *SilenceWatchdog) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.gen++
	w.armed = true
	gen := w.gen
	w.timer = time.AfterFunc(w.window, func() {
		w.expire(gen)
	})
}

// Disarm cancels the pending expiry, if any.
func (w *SilenceWatchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.gen++
	w.armed = false
}

// Valid reports whether a fire with the given generation is still current.
// A fire that raced with a Disarm or a rearm reports false.
func (w *SilenceWatchdog) Valid(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed && gen == w.gen
}
