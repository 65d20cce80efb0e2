package engine

import "time"

const (
	defaultBackoffFloor   = 500 * time.Millisecond
	defaultBackoffCeiling = 5 * time.Second
	defaultBackoffFactor  = 1.5
)

// Backoff tracks the retry delay for wake-session restarts. Each call to
// Next returns the current delay and grows it by the configured factor up to
// the ceiling; Reset drops it back to the floor. Used only for wake-session
// restarts, never for capture restarts.
//
// Not safe for concurrent use; the engine owns it on the event loop.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration
	factor  float64
	current time.Duration
}

// NewBackoff creates a Backoff. Non-positive arguments select the defaults
// (500ms floor, 5s ceiling, factor 1.5).
func NewBackoff(floor, ceiling time.Duration, factor float64) *Backoff {
	if floor <= 0 {
		floor = defaultBackoffFloor
	}
	if ceiling <= 0 {
		ceiling = defaultBackoffCeiling
	}
	if ceiling < floor {
		ceiling = floor
	}
	if factor <= 1 {
		factor = defaultBackoffFactor
	}
	return &Backoff{floor: floor, ceiling: ceiling, factor: factor, current: floor}
}

// Next returns the delay to wait before the next restart attempt and grows
// the subsequent delay.
func (b *Backoff) Next() time.Duration {
	d := b.current
	grown := time.Duration(float64(b.current) * b.factor)
	if grown > b.ceiling {
		grown = b.ceiling
	}
	b.current = grown
	return d
}

// Reset drops the delay back to the floor. Called on every successful
// session start.
func (b *Backoff) Reset() {
	b.current = b.floor
}
