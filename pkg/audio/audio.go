// Package audio defines the capture and playback abstractions for the
// coachvox client: the microphone Device, the Pipeline that gates chunk
// forwarding, the response Player, and the microphone permission probe.
//
// The capture device is acquired once and reused across capture cycles; it is
// released only on full teardown. Whether captured chunks actually flow
// anywhere is decided by the Pipeline, which the engine opens exactly while
// an utterance is being captured.
package audio

import "context"

// Permission is the result of probing microphone access.
type Permission int

const (
	// PermissionUnknown means access has not been decided yet.
	PermissionUnknown Permission = iota

	// PermissionGranted means the capture device can be opened.
	PermissionGranted

	// PermissionDenied means access was refused. Terminal for the session
	// lifecycle until an explicit re-probe.
	PermissionDenied
)

// String returns a short label for logging and status lines.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Prober checks whether microphone access is available. Consulted at engine
// initialisation and again after any permission-denied recognition error.
type Prober interface {
	Probe(ctx context.Context) Permission
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) Permission

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) Permission { return f(ctx) }

// Device is an exclusively-owned microphone capture stream.
//
// Open acquires the device once; Chunks then emits raw PCM chunks at a fixed
// interval (typically 100ms of audio per chunk) until Close. Implementations
// must make Close idempotent.
type Device interface {
	// Open acquires the capture device and starts producing chunks.
	Open(ctx context.Context) error

	// Chunks returns the stream of PCM chunks. The channel is closed when the
	// device is closed or fails.
	Chunks() <-chan []byte

	// Close releases the device. Safe to call more than once.
	Close() error
}

// Player plays one synthesized audio response to completion.
//
// Play blocks until playback finishes or fails. Failures are best-effort
// courtesies for the caller to log, never reasons to abort a session.
type Player interface {
	Play(ctx context.Context, data []byte) error
}
