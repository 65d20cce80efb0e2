// Package engine implements the voice session state machine: it arbitrates
// between wake-phrase listening and active capture, streams captured audio
// to the analysis service, recovers from recognizer failures with backoff,
// and resumes wake listening after a spoken response finishes playing.
//
// All state transitions happen on one serialized event loop; asynchronous
// collaborators (recognition sessions, timers, the transport, playback)
// deliver their outcomes as events into that loop.
package engine

// State is the engine's single source of truth. Exactly one State is active
// at any instant.
type State int

const (
	// StateIdle means the engine is constructed but not listening, typically
	// because the transport is not connected yet.
	StateIdle State = iota

	// StateWakeListening means a wake-mode recognition session is running
	// (or a restart of one is scheduled).
	StateWakeListening

	// StateWakeProcessing is the short settle window between tearing down
	// the wake session and starting capture.
	StateWakeProcessing

	// StateCapturing means user speech is being recorded and streamed.
	StateCapturing

	// StateAwaitingResponse means the utterance was sent and the engine is
	// waiting for the service's analysis and speech response.
	StateAwaitingResponse

	// StatePlayingResponse means the synthesized response is playing.
	StatePlayingResponse

	// StateDisabled means microphone permission was denied. Terminal until
	// an explicit Reset.
	StateDisabled
)

// String returns the state's identifier for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWakeListening:
		return "wake_listening"
	case StateWakeProcessing:
		return "wake_processing"
	case StateCapturing:
		return "capturing"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StatePlayingResponse:
		return "playing_response"
	case StateDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// StatusLine returns the short human-readable status shown to the user.
func (s State) StatusLine() string {
	switch s {
	case StateIdle:
		return "waiting for connection"
	case StateWakeListening:
		return "listening for wake phrase"
	case StateWakeProcessing:
		return "wake phrase detected"
	case StateCapturing:
		return "recording"
	case StateAwaitingResponse:
		return "analyzing"
	case StatePlayingResponse:
		return "playing response"
	case StateDisabled:
		return "permission denied, voice disabled"
	default:
		return "unknown"
	}
}
