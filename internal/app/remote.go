package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkarolyi/coachvox/internal/engine"
	"github.com/pkarolyi/coachvox/internal/transport"
)

// Remote maintains the duplex channel to the analysis service across
// reconnects. It implements [engine.Transport] with a stable inbound channel
// so the engine never sees a channel swap: each underlying connection's
// messages are forwarded into the same stream, and connection state changes
// reach the engine through the listener.
type Remote struct {
	url    string
	token  string
	log    *slog.Logger
	dial   dialFunc
	notify transport.StateListener

	inbound chan transport.ServerMessage

	mu     sync.RWMutex
	client *transport.Client
	state  transport.ConnState
}

// dialFunc matches transport.Dial. Swapped in tests.
type dialFunc func(ctx context.Context, url, token string, opts ...transport.Option) (*transport.Client, error)

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithRemoteLogger sets the logger for connection lifecycle events.
func WithRemoteLogger(log *slog.Logger) RemoteOption {
	return func(r *Remote) { r.log = log }
}

// WithStateListener forwards connection state changes, typically to
// [engine.Engine.NotifyConnState].
func WithStateListener(fn transport.StateListener) RemoteOption {
	return func(r *Remote) { r.notify = fn }
}

// NewRemote creates a Remote for the given service endpoint. No connection
// is attempted until Run.
func NewRemote(url, token string, opts ...RemoteOption) *Remote {
	r := &Remote{
		url:     url,
		token:   token,
		log:     slog.Default(),
		dial:    transport.Dial,
		inbound: make(chan transport.ServerMessage, 32),
		state:   transport.StateConnecting,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run dials the analysis service and keeps the connection alive until ctx is
// cancelled, redialling with backoff after every loss.
func (r *Remote) Run(ctx context.Context) error {
	backoff := engine.NewBackoff(time.Second, 30*time.Second, 2)

	for {
		if err := r.connectOnce(ctx, backoff); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			r.teardown()
			return ctx.Err()
		default:
		}
	}
}

// connectOnce establishes one connection and blocks until it drops. Returns
// a non-nil error only when ctx ends.
func (r *Remote) connectOnce(ctx context.Context, backoff *engine.Backoff) error {
	var client *transport.Client
	for {
		c, err := r.dial(ctx, r.url, r.token, transport.WithStateListener(r.onClientState))
		if err == nil {
			client = c
			backoff.Reset()
			break
		}
		if ctx.Err() != nil {
			r.teardown()
			return ctx.Err()
		}
		delay := backoff.Next()
		r.log.Warn("analysis service unreachable, retrying", "url", r.url, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			r.teardown()
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	r.mu.Lock()
	r.client = client
	r.mu.Unlock()
	r.log.Info("connected to analysis service", "url", r.url)

	// Forward until the connection's inbound stream closes.
	for {
		select {
		case <-ctx.Done():
			_ = client.Close()
			r.teardown()
			return ctx.Err()
		case msg, ok := <-client.Inbound():
			if !ok {
				r.mu.Lock()
				r.client = nil
				r.mu.Unlock()
				r.log.Warn("analysis service connection lost")
				return nil
			}
			select {
			case r.inbound <- msg:
			case <-ctx.Done():
				_ = client.Close()
				r.teardown()
				return ctx.Err()
			}
		}
	}
}

// onClientState tracks the underlying connection's state and forwards it.
// While between connections the remote reports Closed, so the engine parks
// in idle until the redial succeeds.
func (r *Remote) onClientState(s transport.ConnState) {
	r.mu.Lock()
	r.state = s
	notify := r.notify
	r.mu.Unlock()
	if notify != nil {
		notify(s)
	}
}

func (r *Remote) teardown() {
	r.mu.Lock()
	if r.client != nil {
		_ = r.client.Close()
		r.client = nil
	}
	r.mu.Unlock()
}

// SendAudioChunk forwards one PCM chunk. Returns [transport.ErrNotOpen]
// between connections.
func (r *Remote) SendAudioChunk(ctx context.Context, chunk []byte) error {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return transport.ErrNotOpen
	}
	return client.SendAudioChunk(ctx, chunk)
}

// SendSpeechEnd signals the end of the captured utterance.
func (r *Remote) SendSpeechEnd(ctx context.Context, mode string) error {
	r.mu.RLock()
	client := r.client
	r.mu.RUnlock()
	if client == nil {
		return transport.ErrNotOpen
	}
	return client.SendSpeechEnd(ctx, mode)
}

// Inbound returns the stable message stream. It never closes; connection
// loss is reported through the state listener instead.
func (r *Remote) Inbound() <-chan transport.ServerMessage {
	return r.inbound
}

// State reports the current connection state.
func (r *Remote) State() transport.ConnState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}
