package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// ErrNotOpen is returned when a send is attempted before the auth handshake
// completed or after the channel closed.
var ErrNotOpen = errors.New("transport: channel not open")

// StateListener is notified on every ConnState change. Called from the
// client's read goroutine; implementations must not block.
type StateListener func(ConnState)

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithStateListener registers a listener for connection state changes.
func WithStateListener(fn StateListener) Option {
	return func(c *Client) {
		c.listener = fn
	}
}

// WithInboundBuffer sets the inbound channel capacity. Default: 32.
func WithInboundBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.inbound = make(chan ServerMessage, n)
		}
	}
}

// Client is the WebSocket implementation of the duplex channel. It is safe
// for concurrent use; the inbound channel is closed when the connection
// dies.
type Client struct {
	conn     *websocket.Conn
	inbound  chan ServerMessage
	listener StateListener

	mu    sync.Mutex
	state ConnState

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// Dial opens the channel, sends the auth frame, and starts the read loop.
// The returned Client is in StateConnecting until the service acknowledges
// authentication.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial: %w", err)
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		inbound: make(chan ServerMessage, 32),
		state:   StateConnecting,
		ctx:     clientCtx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.writeJSON(ctx, authMessage{Type: "auth", Token: token}); err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "auth send failed")
		return nil, fmt.Errorf("transport: auth: %w", err)
	}

	go c.readLoop()
	return c, nil
}

type authMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type audioChunkMessage struct {
	Type        string `json:"type"`
	AudioBase64 string `json:"audio_base64"`
}

type speechEndMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

// SendAudioChunk base64-encodes one PCM chunk and sends it. Fails with
// ErrNotOpen unless the channel is authenticated.
func (c *Client) SendAudioChunk(ctx context.Context, chunk []byte) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	return c.writeJSON(ctx, audioChunkMessage{
		Type:        "audio_chunk",
		AudioBase64: base64.StdEncoding.EncodeToString(chunk),
	})
}

// SendSpeechEnd sends the end-of-utterance marker tagged with mode.
func (c *Client) SendSpeechEnd(ctx context.Context, mode string) error {
	if c.State() != StateOpen {
		return ErrNotOpen
	}
	return c.writeJSON(ctx, speechEndMessage{Type: "speech_end", Mode: mode})
}

// Inbound returns the stream of service messages. Closed when the
// connection dies.
func (c *Client) Inbound() <-chan ServerMessage {
	return c.inbound
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the channel down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "session closed")
		c.setState(StateClosed)
	})
	return c.closeErr
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readLoop reads frames until the connection dies. It owns the inbound
// channel and closes it on exit.
func (c *Client) readLoop() {
	defer func() {
		c.setState(StateClosed)
		close(c.inbound)
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		if msg.Status == "authenticated" {
			c.setState(StateOpen)
			continue
		}

		select {
		case c.inbound <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// setState transitions the connection state, notifying the listener on an
// actual change. StateClosed is terminal.
func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(s)
	}
}
