// Package mock provides test doubles for the recog package interfaces.
//
// Use Provider to verify that the caller starts runs with the expected
// Config, and Session to feed controlled events and inspect which audio
// chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Start(ctx, cfg)
//	sess.Emit(recog.Event{Type: recog.EventFinal, Text: "hey fifa"})
package mock

import (
	"context"
	"sync"

	"github.com/pkarolyi/coachvox/pkg/recog"
)

// StartCall records a single invocation of Provider.Start.
type StartCall struct {
	// Ctx is the context passed to Start.
	Ctx context.Context
	// Cfg is the Config passed to Start.
	Cfg recog.Config
}

// Provider is a mock implementation of recog.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by the next Start call. If nil, Start returns a
	// fresh NewSession result. If Sessions is non-empty it takes precedence
	// and Start pops from its front, one session per call.
	Session  *Session
	Sessions []*Session

	// StartErr, if non-nil, is returned as the error from Start.
	StartErr error

	// StartErrs, if non-empty, is popped from the front on each Start call;
	// a nil element means that call succeeds. Takes precedence over StartErr.
	StartErrs []error

	// StartCalls records every call to Start.
	StartCalls []StartCall

	// active tracks currently open sessions for the single-session property.
	active    int
	maxActive int
}

// Start records the call and hands out the configured session or error.
func (p *Provider) Start(ctx context.Context, cfg recog.Config) (recog.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls = append(p.StartCalls, StartCall{Ctx: ctx, Cfg: cfg})

	if len(p.StartErrs) > 0 {
		err := p.StartErrs[0]
		p.StartErrs = p.StartErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if p.StartErr != nil {
		return nil, p.StartErr
	}

	var sess *Session
	switch {
	case len(p.Sessions) > 0:
		sess = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	case p.Session != nil:
		sess = p.Session
	default:
		sess = NewSession()
	}

	sess.onClose = p.sessionClosed
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	return sess, nil
}

func (p *Provider) sessionClosed() {
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
}

// MaxActive reports the highest number of simultaneously open sessions
// observed so far. The engine's contract requires this never to exceed 1.
func (p *Provider) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Calls returns a snapshot of all recorded Start calls.
func (p *Provider) Calls() []StartCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartCall, len(p.StartCalls))
	copy(out, p.StartCalls)
	return out
}

// Ensure Provider implements recog.Provider at compile time.
var _ recog.Provider = (*Provider)(nil)

// Session is a scriptable recog.Session.
type Session struct {
	mu sync.Mutex

	// SentAudio accumulates copies of all chunks passed to SendAudio.
	SentAudio [][]byte

	// SendAudioErr, if non-nil, is returned by SendAudio.
	SendAudioErr error

	events  chan recog.Event
	done    chan struct{}
	once    sync.Once
	onClose func()

	// CloseCalls counts Close invocations, including redundant ones.
	CloseCalls int
}

// NewSession creates a Session with a buffered event channel.
func NewSession() *Session {
	return &Session{
		events: make(chan recog.Event, 32),
		done:   make(chan struct{}),
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	select {
	case <-s.done:
		return recogClosedErr
	default:
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.SentAudio = append(s.SentAudio, c)
	return nil
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan recog.Event { return s.events }

// Emit pushes an event into the stream. Panics if called after End.
func (s *Session) Emit(ev recog.Event) {
	s.events <- ev
}

// End emits a terminal Ended event and closes the stream, simulating the
// backend terminating on its own.
func (s *Session) End() {
	s.once.Do(func() {
		close(s.done)
		s.events <- recog.Event{Type: recog.EventEnded}
		close(s.events)
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// Close terminates the session. Idempotent; only the first call closes the
// stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()
	s.End()
	return nil
}

// Closes reports how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls
}

var _ recog.Session = (*Session)(nil)

var recogClosedErr = errSessionClosed{}

type errSessionClosed struct{}

func (errSessionClosed) Error() string { return "mock: session is closed" }
