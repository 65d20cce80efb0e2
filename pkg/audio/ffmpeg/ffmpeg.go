// Package ffmpeg implements the audio.Device interface by running an ffmpeg
// subprocess that reads the system microphone and writes raw s16le PCM to
// stdout. It also provides a permission probe that attempts a short capture
// to detect whether microphone access is available.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkarolyi/coachvox/pkg/audio"
)

// Config describes the capture source and PCM shape.
type Config struct {
	// Command is the ffmpeg executable. Defaults to "ffmpeg".
	Command string

	// InputFormat is the ffmpeg input demuxer (e.g., "pulse", "alsa",
	// "avfoundation"). Defaults to "pulse".
	InputFormat string

	// InputDevice is the capture source name. Defaults to "default".
	InputDevice string

	// SampleRate in Hz. Defaults to 16000.
	SampleRate int

	// Channels. Defaults to 1.
	Channels int

	// ChunkInterval is how much audio each emitted chunk holds.
	// Defaults to 100ms.
	ChunkInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Command == "" {
		c.Command = "ffmpeg"
	}
	if c.InputFormat == "" {
		c.InputFormat = "pulse"
	}
	if c.InputDevice == "" {
		c.InputDevice = "default"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.ChunkInterval <= 0 {
		c.ChunkInterval = 100 * time.Millisecond
	}
}

// chunkSize returns the byte length of one chunk of s16le PCM.
func (c *Config) chunkSize() int {
	samples := int(float64(c.SampleRate) * c.ChunkInterval.Seconds())
	return samples * c.Channels * 2
}

// Device captures microphone audio through an ffmpeg subprocess.
// It implements audio.Device.
type Device struct {
	cfg Config

	mu      sync.Mutex
	process *os.Process
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
	chunks  chan []byte

	closeOnce sync.Once
	closeErr  error
}

// NewDevice creates a Device with the given config. The subprocess is not
// started until Open.
func NewDevice(cfg Config) *Device {
	cfg.applyDefaults()
	return &Device{cfg: cfg}
}

// Open starts the ffmpeg subprocess and the chunking reader. It fails fast
// when ffmpeg exits immediately (missing binary, unavailable device).
func (d *Device) Open(ctx context.Context) error {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.cfg.InputFormat,
		"-i", d.cfg.InputDevice,
		"-ac", strconv.Itoa(d.cfg.Channels),
		"-ar", strconv.Itoa(d.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, d.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// Give ffmpeg a moment to fail on a bad device before declaring success.
	select {
	case err := <-waitErr:
		if err != nil {
			return fmt.Errorf("ffmpeg: exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return errors.New("ffmpeg: exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	d.mu.Lock()
	d.process = cmd.Process
	d.stdout = stdout
	d.stderr = &stderr
	d.waitErr = waitErr
	d.chunks = make(chan []byte, 16)
	d.mu.Unlock()

	go d.readChunks()
	return nil
}

// Chunks returns the PCM chunk stream. Nil before Open.
func (d *Device) Chunks() <-chan []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chunks
}

// Close interrupts the subprocess and waits for it to exit. Idempotent.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		process := d.process
		stdout := d.stdout
		waitErr := d.waitErr
		d.mu.Unlock()

		if process == nil {
			return
		}
		_ = process.Signal(os.Interrupt)

		select {
		case err, ok := <-waitErr:
			if ok {
				d.closeErr = normalizeExitErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = process.Kill()
			if err, ok := <-waitErr; ok {
				d.closeErr = normalizeExitErr(err)
			}
		}

		if err := stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && d.closeErr == nil {
			d.closeErr = err
		}
	})
	return d.closeErr
}

// readChunks slices the raw PCM stream into fixed-size chunks.
func (d *Device) readChunks() {
	defer close(d.chunks)

	size := d.cfg.chunkSize()
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(d.stdout, buf)
		if n > 0 {
			d.chunks <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

// normalizeExitErr treats the interrupt-driven shutdown as a clean exit.
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// ffmpeg exits non-zero when interrupted mid-stream.
		return nil
	}
	return err
}

// Prober probes microphone access by attempting a very short capture run.
// An immediate subprocess failure mentioning the device is treated as
// denied; success is granted; anything else is unknown.
type Prober struct {
	cfg Config
}

// NewProber creates a Prober sharing the device config.
func NewProber(cfg Config) *Prober {
	cfg.applyDefaults()
	return &Prober{cfg: cfg}
}

// Probe implements audio.Prober.
func (p *Prober) Probe(ctx context.Context) audio.Permission {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", p.cfg.InputFormat,
		"-i", p.cfg.InputDevice,
		"-t", "0.1",
		"-f", "null",
		"-",
	}
	out, err := exec.CommandContext(probeCtx, p.cfg.Command, args...).CombinedOutput()
	if err == nil {
		return audio.PermissionGranted
	}

	msg := strings.ToLower(string(out))
	if strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "device or resource busy") {
		return audio.PermissionDenied
	}
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) {
		return audio.PermissionUnknown
	}
	// ffmpeg present but the source would not open.
	if strings.Contains(msg, "no such") || strings.Contains(msg, "cannot open") {
		return audio.PermissionDenied
	}
	return audio.PermissionUnknown
}
