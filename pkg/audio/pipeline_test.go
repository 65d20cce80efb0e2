package audio_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkarolyi/coachvox/pkg/audio"
	"github.com/pkarolyi/coachvox/pkg/audio/mock"
)

// collector is a thread-safe Sink for tests.
type collector struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *collector) sink(chunk []byte) {
	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chunks)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPipelineForwardsOnlyWhileOpen(t *testing.T) {
	t.Parallel()

	dev := mock.NewDevice()
	p := audio.NewPipeline(dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	waitFor(t, func() bool { return dev.Opens() == 1 })

	// Closed by default: chunks are discarded.
	dev.Push([]byte{1})
	time.Sleep(20 * time.Millisecond)

	var got collector
	p.Open(got.sink)
	dev.Push([]byte{2})
	dev.Push([]byte{3})
	waitFor(t, func() bool { return got.len() == 2 })

	p.Close()
	dev.Push([]byte{4})
	time.Sleep(20 * time.Millisecond)
	if got.len() != 2 {
		t.Fatalf("forwarded %d chunks after Close, want 2 total", got.len())
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if dev.Closes() == 0 {
		t.Fatal("device was not closed on Run exit")
	}
}

func TestPipelineTapReceivesEverything(t *testing.T) {
	t.Parallel()

	dev := mock.NewDevice()
	p := audio.NewPipeline(dev)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	waitFor(t, func() bool { return dev.Opens() == 1 })

	var tap, gated collector
	p.Tap(tap.sink)

	// Tap sees chunks even while the pipeline is closed.
	dev.Push([]byte{1})
	waitFor(t, func() bool { return tap.len() == 1 })

	p.Open(gated.sink)
	dev.Push([]byte{2})
	waitFor(t, func() bool { return tap.len() == 2 && gated.len() == 1 })

	// Removing the tap stops its flow without touching the gated sink.
	p.Tap(nil)
	dev.Push([]byte{3})
	waitFor(t, func() bool { return gated.len() == 2 })
	if tap.len() != 2 {
		t.Fatalf("tap received %d chunks after removal, want 2", tap.len())
	}
}

func TestPipelineRunEndsOnDeviceStreamEnd(t *testing.T) {
	t.Parallel()

	dev := mock.NewDevice()
	p := audio.NewPipeline(dev)

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	waitFor(t, func() bool { return dev.Opens() == 1 })
	dev.End()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on clean stream end", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stream end")
	}
}

func TestPipelineRunPropagatesOpenError(t *testing.T) {
	t.Parallel()

	dev := mock.NewDevice()
	dev.OpenErr = context.DeadlineExceeded
	p := audio.NewPipeline(dev)

	if err := p.Run(context.Background()); err == nil {
		t.Fatal("Run() = nil, want open error")
	}
}

func TestPipelineCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := audio.NewPipeline(mock.NewDevice())
	p.Open(func([]byte) {})
	if !p.IsOpen() {
		t.Fatal("IsOpen() = false after Open")
	}
	p.Close()
	p.Close()
	if p.IsOpen() {
		t.Fatal("IsOpen() = true after Close")
	}
}
