package audio

import (
	"context"
	"fmt"
	"sync"
)

// Sink receives captured PCM chunks while the pipeline is open.
type Sink func(chunk []byte)

// Pipeline drains the capture device continuously and forwards chunks to a
// sink only while open. Keeping the device hot across capture cycles avoids
// re-acquisition latency and repeated permission prompts; the open/closed
// flag is what tracks the engine's capturing state.
//
// All methods are safe for concurrent use.
type Pipeline struct {
	dev Device

	mu   sync.Mutex
	open bool
	sink Sink
	tap  Sink
}

// NewPipeline creates a Pipeline around dev. The device is not opened until
// Run is called.
func NewPipeline(dev Device) *Pipeline {
	return &Pipeline{dev: dev}
}

// Run opens the device and drains it until ctx is cancelled or the device
// stream ends. Chunks arriving while the pipeline is closed are discarded.
// Run closes the device before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.dev.Open(ctx); err != nil {
		return fmt.Errorf("audio: open capture device: %w", err)
	}
	defer p.dev.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-p.dev.Chunks():
			if !ok {
				return nil
			}
			p.forward(chunk)
		}
	}
}

// Open starts forwarding chunks to sink. Replaces any previous sink.
func (p *Pipeline) Open(sink Sink) {
	p.mu.Lock()
	p.open = true
	p.sink = sink
	p.mu.Unlock()
}

// Close stops forwarding. Idempotent; the device keeps running.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.open = false
	p.sink = nil
	p.mu.Unlock()
}

// Tap installs an always-on sink that receives every chunk regardless of the
// open flag. The recognizer listens here: it needs audio during both wake
// listening and capture, while the gated sink only carries capture audio.
// Tap(nil) removes it.
func (p *Pipeline) Tap(sink Sink) {
	p.mu.Lock()
	p.tap = sink
	p.mu.Unlock()
}

// IsOpen reports whether chunks are currently being forwarded.
func (p *Pipeline) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Pipeline) forward(chunk []byte) {
	p.mu.Lock()
	sink := p.sink
	open := p.open
	tap := p.tap
	p.mu.Unlock()
	if tap != nil {
		tap(chunk)
	}
	if open && sink != nil {
		sink(chunk)
	}
}
