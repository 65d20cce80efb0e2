// Package mock provides in-memory audio devices and players for testing.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
package mock

import (
	"context"
	"sync"

	"github.com/pkarolyi/coachvox/pkg/audio"
)

// Device is a scriptable audio.Device. Push feeds chunks to consumers and
// End terminates the stream.
type Device struct {
	// OpenErr is returned from Open when set.
	OpenErr error

	mu         sync.Mutex
	chunks     chan []byte
	openCalls  int
	closeCalls int
	endOnce    sync.Once
}

// NewDevice creates a Device with a buffered chunk stream.
func NewDevice() *Device {
	return &Device{chunks: make(chan []byte, 64)}
}

// Open implements audio.Device.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	d.openCalls++
	d.mu.Unlock()
	return d.OpenErr
}

// Chunks implements audio.Device.
func (d *Device) Chunks() <-chan []byte {
	return d.chunks
}

// Close implements audio.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closeCalls++
	d.mu.Unlock()
	d.endOnce.Do(func() { close(d.chunks) })
	return nil
}

// Push feeds one chunk to consumers.
func (d *Device) Push(chunk []byte) {
	d.chunks <- chunk
}

// End terminates the chunk stream without counting as a Close call.
func (d *Device) End() {
	d.endOnce.Do(func() { close(d.chunks) })
}

// Opens reports how many times Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openCalls
}

// Closes reports how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCalls
}

// Player records every payload it is asked to play. A non-nil Block channel
// makes Play wait until the channel is closed, for testing the playback
// state of callers.
type Player struct {
	// PlayErr is returned from Play when set.
	PlayErr error

	// Block, when non-nil, makes Play wait for it (or ctx).
	Block chan struct{}

	mu     sync.Mutex
	played [][]byte
}

// Play implements audio.Player.
func (p *Player) Play(ctx context.Context, data []byte) error {
	p.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	p.played = append(p.played, cp)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.PlayErr
}

// Played returns a copy of all payloads passed to Play.
func (p *Player) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.played))
	copy(out, p.played)
	return out
}

// Prober returns a fixed permission result.
type Prober struct {
	Result audio.Permission
}

// Probe implements audio.Prober.
func (p *Prober) Probe(ctx context.Context) audio.Permission {
	return p.Result
}
