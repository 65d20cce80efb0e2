// Package recog defines the Provider interface for continuous speech
// recognition backends.
//
// A recognition provider wraps a real-time transcription service and exposes
// one streaming run at a time as a Session. The engine opens a session in one
// of two shapes: a wake run (finals only, no interim results) used to listen
// for a wake phrase, and a capture run (interim results on) used while the
// user is speaking an utterance. The session normalises the backend's output
// into a single ordered stream of Events.
//
// Implementations must be safe for concurrent use. The Events channel is
// goroutine-safe by construction.
package recog

import "context"

// Config describes the recognition shape for a new session.
type Config struct {
	// Continuous keeps the session open across multiple results instead of
	// stopping after the first recognised phrase.
	Continuous bool

	// InterimResults enables low-latency partial transcripts. Off for wake
	// runs, on for capture runs.
	InterimResults bool

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	Language string

	// MaxAlternatives caps how many candidate transcriptions the backend
	// may report per result. Wake runs use 1.
	MaxAlternatives int

	// SampleRate is the PCM input sample rate in Hz.
	SampleRate int

	// Channels is the PCM input channel count. 1 for mono microphone input.
	Channels int
}

// EventType discriminates the events a Session emits.
type EventType int

const (
	// EventInterim carries a low-latency partial transcript. Display only.
	EventInterim EventType = iota

	// EventFinal carries an authoritative transcript fragment.
	EventFinal

	// EventError reports a recognition failure. Inspect Event.Kind to decide
	// whether the failure is fatal or transient.
	EventError

	// EventEnded signals that the underlying run has terminated. It is the
	// last event a session emits before its channel closes. An Ended with no
	// preceding Close call means the backend stopped on its own.
	EventEnded
)

// ErrorKind classifies recognition failures for retry policy.
type ErrorKind int

const (
	// ErrorOther is a transient backend hiccup. Safe to restart the run.
	ErrorOther ErrorKind = iota

	// ErrorNoMatch means the backend heard audio it could not recognise, or
	// aborted the run early. Transient.
	ErrorNoMatch

	// ErrorPermissionDenied means audio access or backend authorisation was
	// refused. Fatal for the session lifecycle until the caller re-probes.
	ErrorPermissionDenied
)

// String returns a short label for logging.
func (k ErrorKind) String() string {
	switch k {
	case ErrorNoMatch:
		return "no-match"
	case ErrorPermissionDenied:
		return "permission-denied"
	default:
		return "other"
	}
}

// Event is one element of a session's normalised output stream.
type Event struct {
	Type EventType

	// Text is the transcript fragment for Interim and Final events.
	Text string

	// Kind classifies the failure for Error events.
	Kind ErrorKind

	// Err is the underlying error for Error events. May be nil when the
	// backend reports a failure without detail.
	Err error
}

// Session is one live recognition run.
//
// Callers must call Close when the run is no longer needed; failing to do so
// may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type Session interface {
	// SendAudio delivers a chunk of raw PCM audio to the backend. The chunk
	// must match the SampleRate and Channels agreed in Config. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Events returns the session's ordered event stream. The channel emits an
	// EventEnded as its last element and is then closed, whether the run ended
	// because of Close, a backend error, or a backend-side timeout.
	Events() <-chan Event

	// Close terminates the run and releases all resources. Calling Close more
	// than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any continuous recognition backend.
type Provider interface {
	// Start opens a new recognition run with the given shape. The returned
	// Session is ready to accept audio immediately.
	//
	// Returns an error if the run cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the Session and must call Close when done.
	Start(ctx context.Context, cfg Config) (Session, error)
}
