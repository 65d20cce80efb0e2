// Package deepgram provides a Deepgram-backed recognition provider using the
// Deepgram streaming WebSocket API. It implements the recog.Provider
// interface.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/coder/websocket"

	"github.com/pkarolyi/coachvox/pkg/recog"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en-US"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the streaming endpoint URL. Used in tests to point
// the provider at a local server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements recog.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Start opens a streaming recognition run with Deepgram. The run's shape
// (interim results on or off) follows cfg.
func (p *Provider) Start(ctx context.Context, cfg recog.Config) (recog.Session, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	sess := &session{
		conn:   conn,
		events: make(chan recog.Event, 64),
		audio:  make(chan []byte, 256),
		done:   make(chan struct{}),
	}

	sess.wg.Add(1)
	go sess.writeLoop(ctx)
	go sess.readLoop(ctx)

	return sess, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given config.
func (p *Provider) buildURL(cfg recog.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	q.Set("sample_rate", strconv.Itoa(sr))
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if cfg.MaxAlternatives > 0 {
		q.Set("alternatives", strconv.Itoa(cfg.MaxAlternatives))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// session is a live Deepgram streaming run. It implements recog.Session.
type session struct {
	conn   *websocket.Conn
	events chan recog.Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to Deepgram.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("deepgram: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("deepgram: session is closed")
	}
}

// Events returns the session's event stream.
func (s *session) Events() <-chan recog.Event { return s.events }

// Close terminates the run cleanly. Idempotent.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask Deepgram to flush pending audio before the socket drops.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		s.wg.Wait()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages to Deepgram.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain whatever is queued before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from Deepgram and dispatches them to the
// events channel. It always emits a terminal event sequence: optionally one
// Error, then exactly one Ended, then the channel closes.
func (s *session) readLoop(ctx context.Context) {
	defer close(s.events)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.emitTermination(err)
			return
		}

		ev, ok := parseResponse(msg)
		if !ok {
			continue
		}
		select {
		case s.events <- ev:
		case <-s.done:
			s.emit(recog.Event{Type: recog.EventEnded})
			return
		}
	}
}

// emitTermination classifies the read error and emits the terminal events.
// A close requested by our own Close call or a normal server close is not an
// error; anything else is surfaced before Ended.
func (s *session) emitTermination(err error) {
	select {
	case <-s.done:
		s.emit(recog.Event{Type: recog.EventEnded})
		return
	default:
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		// Server-side timeout or orderly shutdown.
	case websocket.StatusPolicyViolation:
		s.emit(recog.Event{Type: recog.EventError, Kind: recog.ErrorPermissionDenied, Err: err})
	case -1:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		s.emit(recog.Event{Type: recog.EventError, Kind: recog.ErrorOther, Err: err})
	default:
		s.emit(recog.Event{Type: recog.EventError, Kind: recog.ErrorOther, Err: err})
	}
	s.emit(recog.Event{Type: recog.EventEnded})
}

// emit delivers ev without blocking forever: termination events must go out
// even when the consumer has stopped draining.
func (s *session) emit(ev recog.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// parseResponse parses a raw Deepgram message into an Event. Returns
// (Event, true) on success, or (zero, false) if the message should be ignored.
func parseResponse(data []byte) (recog.Event, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return recog.Event{}, false
	}
	if resp.Type != "Results" {
		return recog.Event{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return recog.Event{}, false
	}

	text := resp.Channel.Alternatives[0].Transcript
	if text == "" {
		return recog.Event{}, false
	}

	ev := recog.Event{Type: recog.EventInterim, Text: text}
	if resp.IsFinal {
		ev.Type = recog.EventFinal
	}
	return ev, true
}
