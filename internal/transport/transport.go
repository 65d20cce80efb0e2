// Package transport implements the duplex channel to the remote analysis
// service. One Client is opened at engine construction, authenticates once,
// then carries many wake/capture cycles: base64 audio chunks and an
// end-of-utterance marker go out, transcript updates, analysis payloads,
// synthesized speech and errors come back.
package transport

import "encoding/json"

// ConnState is the lifecycle state of the duplex channel.
type ConnState int

const (
	// StateConnecting means the socket is open but the auth handshake has
	// not completed.
	StateConnecting ConnState = iota

	// StateOpen means the service acknowledged authentication; audio may be
	// sent.
	StateOpen

	// StateClosed means the channel is gone. Terminal.
	StateClosed
)

// String returns a short label for logging and status lines.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerMessage is one inbound frame from the analysis service. Fields are
// populated per frame kind; unset fields keep their zero value.
type ServerMessage struct {
	// Status carries handshake acknowledgements ("authenticated").
	Status string `json:"status,omitempty"`

	// Transcript is a display-only transcript update. A pointer so an
	// explicitly empty transcript is distinguishable from absence.
	Transcript *string `json:"transcript,omitempty"`

	// Analysis is the coaching analysis payload, forwarded verbatim to the
	// result renderer.
	Analysis json.RawMessage `json:"analysis,omitempty"`

	// TTSAudio is the base64-encoded synthesized speech response.
	TTSAudio string `json:"tts_audio,omitempty"`

	// Error is a service-reported error message.
	Error string `json:"error,omitempty"`
}
