package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/pkarolyi/coachvox/internal/observe"
	"github.com/pkarolyi/coachvox/internal/transport"
	"github.com/pkarolyi/coachvox/internal/wake"
	"github.com/pkarolyi/coachvox/pkg/audio"
	"github.com/pkarolyi/coachvox/pkg/recog"
)

const defaultSettleDelay = 300 * time.Millisecond

// Transport is the slice of the duplex analysis channel the engine drives.
// Implemented by [transport.Client].
type Transport interface {
	SendAudioChunk(ctx context.Context, chunk []byte) error
	SendSpeechEnd(ctx context.Context, mode string) error
	Inbound() <-chan transport.ServerMessage
	State() transport.ConnState
}

// Pipeline gates whether captured audio chunks flow to a sink, and carries
// an always-on tap feeding the live recognition session. Implemented by
// [audio.Pipeline].
type Pipeline interface {
	Open(audio.Sink)
	Close()
	Tap(audio.Sink)
}

// ResultSink receives analysis payloads verbatim for rendering.
type ResultSink func(analysis json.RawMessage)

// TranscriptSink receives display-only transcript updates: interim and
// final fragments during capture, and the service's transcript of the sent
// utterance.
type TranscriptSink func(text string, final bool)

// Config holds the engine's tunables. Zero values select the defaults.
type Config struct {
	// DefaultMode is the coaching mode active at startup.
	DefaultMode string

	// SettleDelay is the pause between tearing down one recognition session
	// and starting another, to avoid audio device contention. Default 300ms.
	SettleDelay time.Duration

	// SilenceWindow is how long capture waits without speech events before
	// concluding the user stopped speaking. Default 4s.
	SilenceWindow time.Duration

	// BackoffFloor, BackoffCeiling and BackoffFactor shape the wake-restart
	// retry delay. Defaults 500ms, 5s, 1.5.
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	BackoffFactor  float64

	// Language is the recognition language tag. Default "en-US".
	Language string

	// SampleRate and Channels describe the capture PCM fed to the
	// recognizer. Defaults 16000 and 1.
	SampleRate int
	Channels   int
}

func (c *Config) applyDefaults() {
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = defaultSilenceWindow
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithLogger sets the engine's logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithMetrics attaches metric instruments. Without it no metrics are
// recorded.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithResultSink registers the analysis renderer.
func WithResultSink(fn ResultSink) Option {
	return func(e *Engine) {
		e.onResult = fn
	}
}

// WithTranscriptSink registers the transcript display.
func WithTranscriptSink(fn TranscriptSink) Option {
	return func(e *Engine) {
		e.onTranscript = fn
	}
}

// Snapshot is a point-in-time view of the engine for status surfaces.
type Snapshot struct {
	State      State
	Mode       string
	Status     string
	Transcript string
	Permission audio.Permission
	Conn       transport.ConnState
}

// Engine is the voice session state machine. Construct with New, drive with
// Run, interact through Send, Cancel, SetMode and Reset, observe through
// Status.
type Engine struct {
	cfg      Config
	detector *wake.Detector
	provider recog.Provider
	tr       Transport
	pipeline Pipeline
	player   audio.Player
	prober   audio.Prober

	log          *slog.Logger
	metrics      *observe.Metrics
	onResult     ResultSink
	onTranscript TranscriptSink

	events chan any
	runCtx context.Context

	// Loop-owned state. Only the Run goroutine touches these.
	state          State
	mode           string
	permission     audio.Permission
	epoch          uint64
	timerGen       uint64
	sess           *lease
	buffer         transcriptBuffer
	backoff        *Backoff
	watchdog       *SilenceWatchdog
	captureStarted time.Time
	sentAt         time.Time

	mu   sync.Mutex
	snap Snapshot
}

// New constructs an Engine. Run must be called before the engine does
// anything.
func New(cfg Config, detector *wake.Detector, provider recog.Provider, tr Transport,
	pipeline Pipeline, player audio.Player, prober audio.Prober, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if detector == nil || provider == nil || tr == nil || pipeline == nil || player == nil || prober == nil {
		return nil, errors.New("engine: all collaborators must be non-nil")
	}
	mode := strings.ToLower(cfg.DefaultMode)
	if mode == "" {
		modes := detector.Modes()
		if len(modes) == 0 {
			return nil, errors.New("engine: detector has no modes")
		}
		mode = modes[0]
	}
	if !detector.HasMode(mode) {
		return nil, fmt.Errorf("engine: unknown default mode %q", mode)
	}

	e := &Engine{
		cfg:      cfg,
		detector: detector,
		provider: provider,
		tr:       tr,
		pipeline: pipeline,
		player:   player,
		prober:   prober,
		log:      slog.Default(),
		events:   make(chan any, 128),
		state:    StateIdle,
		mode:     mode,
		backoff:  NewBackoff(cfg.BackoffFloor, cfg.BackoffCeiling, cfg.BackoffFactor),
	}
	e.watchdog = NewSilenceWatchdog(cfg.SilenceWindow, func(gen uint64) {
		e.post(evSilence{gen: gen})
	})
	for _, o := range opts {
		o(e)
	}
	e.snap = Snapshot{State: StateIdle, Mode: mode, Status: StateIdle.StatusLine()}
	return e, nil
}

// ── Events ────────────────────────────────────────────────────────────────

type evRecog struct {
	epoch uint64
	ev    recog.Event
}

type evSettle struct{ gen uint64 }

type evRestartWake struct{ gen uint64 }

type evSilence struct{ gen uint64 }

type evConn struct{ state transport.ConnState }

type evInbound struct{ msg transport.ServerMessage }

type evPlaybackDone struct{ err error }

type cmdKind int

const (
	cmdSend cmdKind = iota
	cmdCancel
	cmdSetMode
	cmdReset
)

type evCmd struct {
	kind cmdKind
	mode string
	done chan error
}

// post delivers an event into the loop. Called from timer goroutines, the
// lease pump, the inbound pump and command methods; never from the loop
// itself.
func (e *Engine) post(ev any) {
	e.events <- ev
}

// NotifyConnState feeds transport state changes into the loop. Suitable as
// a [transport.StateListener].
func (e *Engine) NotifyConnState(s transport.ConnState) {
	e.post(evConn{state: s})
}

// ── Public commands ───────────────────────────────────────────────────────

// Send finishes the current capture and delivers the accumulated utterance,
// as if silence had been detected with a non-empty transcript.
func (e *Engine) Send() error { return e.command(cmdSend, "") }

// Cancel abandons the current capture without sending anything.
func (e *Engine) Cancel() error { return e.command(cmdCancel, "") }

// SetMode switches the active coaching mode. Only permitted while wake
// listening; the wake session restarts so the new vocabulary takes effect.
func (e *Engine) SetMode(mode string) error { return e.command(cmdSetMode, mode) }

// Reset fully tears down and re-initialises the engine: the one way out of
// StateDisabled. Permission is probed again.
func (e *Engine) Reset() error { return e.command(cmdReset, "") }

func (e *Engine) command(kind cmdKind, mode string) error {
	done := make(chan error, 1)
	e.post(evCmd{kind: kind, mode: mode, done: done})
	return <-done
}

// Status returns a point-in-time snapshot.
func (e *Engine) Status() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// ── Run loop ──────────────────────────────────────────────────────────────

// Run probes permission, enters wake listening when the transport is open,
// and processes events until ctx is cancelled. It returns ctx.Err() after
// tearing down any live session.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx

	e.permission = e.prober.Probe(ctx)
	if e.permission == audio.PermissionDenied {
		e.log.Warn("microphone permission denied, voice disabled")
		e.setState(StateDisabled)
	} else if e.tr.State() == transport.StateOpen {
		e.tryStartWake(ctx)
	}

	go e.pumpInbound()

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ctx, ev)
		}
	}
}

// pumpInbound forwards service messages into the loop until the transport
// dies, then reports the closure.
func (e *Engine) pumpInbound() {
	for msg := range e.tr.Inbound() {
		e.post(evInbound{msg: msg})
	}
	e.post(evConn{state: transport.StateClosed})
}

func (e *Engine) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case evRecog:
		e.handleRecog(ctx, ev)
	case evSettle:
		if ev.gen == e.timerGen && e.state == StateWakeProcessing {
			e.startCapture(ctx)
		}
	case evRestartWake:
		if ev.gen == e.timerGen && e.state == StateWakeListening && e.sess == nil {
			e.tryStartWake(ctx)
		}
	case evSilence:
		e.handleSilence(ctx, ev.gen)
	case evConn:
		e.handleConn(ctx, ev.state)
	case evInbound:
		e.handleInbound(ctx, ev.msg)
	case evPlaybackDone:
		e.handlePlaybackDone(ctx, ev.err)
	case evCmd:
		ev.done <- e.handleCmd(ctx, ev)
	}
}

// ── Recognition events ────────────────────────────────────────────────────

func (e *Engine) handleRecog(ctx context.Context, ev evRecog) {
	// Events from a torn-down session are stale.
	if e.sess == nil || ev.epoch != e.epoch {
		return
	}

	switch e.state {
	case StateWakeListening:
		e.handleWakeEvent(ctx, ev.ev)
	case StateCapturing:
		e.handleCaptureEvent(ctx, ev.ev)
	}
}

func (e *Engine) handleWakeEvent(ctx context.Context, ev recog.Event) {
	switch ev.Type {
	case recog.EventFinal:
		mode, ok := e.detector.DetectAny(ev.Text, e.mode)
		if !ok {
			return
		}
		e.log.Info("wake phrase detected", "transcript", ev.Text, "mode", mode)
		if e.metrics != nil {
			e.metrics.WakeDetections.Add(ctx, 1, metric.WithAttributes(observe.Attr("mode", mode)))
		}
		e.mode = strings.ToLower(mode)
		e.stopSession()
		e.setState(StateWakeProcessing)
		e.scheduleSettle()

	case recog.EventError:
		if ev.Kind == recog.ErrorPermissionDenied {
			e.disable()
			return
		}
		e.log.Debug("wake session error", "kind", ev.Kind, "err", ev.Err)
		e.stopSession()
		e.recordWakeRestart(ctx)
		e.scheduleWakeRestart(e.backoff.Next())

	case recog.EventEnded:
		// The recognizer quit on its own (provider-side timeout). Restart
		// with backoff, same as a transient error.
		e.log.Debug("wake session ended unexpectedly")
		e.stopSession()
		e.recordWakeRestart(ctx)
		e.scheduleWakeRestart(e.backoff.Next())
	}
}

func (e *Engine) handleCaptureEvent(ctx context.Context, ev recog.Event) {
	switch ev.Type {
	case recog.EventInterim:
		e.buffer.setInterim(ev.Text)
		e.watchdog.Arm()
		e.publishTranscript()
		if e.onTranscript != nil {
			e.onTranscript(e.buffer.display(), false)
		}

	case recog.EventFinal:
		e.buffer.appendFinal(ev.Text)
		e.watchdog.Arm()
		e.publishTranscript()
		if e.onTranscript != nil {
			e.onTranscript(e.buffer.display(), true)
		}

	case recog.EventError:
		if ev.Kind == recog.ErrorPermissionDenied {
			e.disable()
			return
		}
		// Capture errors abandon the attempt immediately, no backoff; the
		// user is mid-utterance and wake listening should recover fast.
		e.log.Warn("capture session error", "kind", ev.Kind, "err", ev.Err)
		e.abandonCapture(ctx, "error")

	case recog.EventEnded:
		if !e.buffer.empty() {
			e.finishCapture(ctx)
		} else {
			e.abandonCapture(ctx, "ended_empty")
		}
	}
}

// ── Wake session lifecycle ────────────────────────────────────────────────

// tryStartWake starts a wake-mode recognition session. On failure the
// restart is rescheduled with backoff.
func (e *Engine) tryStartWake(ctx context.Context) {
	if e.permission == audio.PermissionDenied || e.tr.State() != transport.StateOpen {
		return
	}

	e.epoch++
	sess, err := e.provider.Start(ctx, recog.Config{
		Continuous:      true,
		InterimResults:  false,
		Language:        e.cfg.Language,
		MaxAlternatives: 1,
		SampleRate:      e.cfg.SampleRate,
		Channels:        e.cfg.Channels,
	})
	if err != nil {
		delay := e.backoff.Next()
		e.log.Warn("wake session start failed", "err", err, "retry_in", delay)
		e.recordWakeRestart(ctx)
		e.scheduleWakeRestart(delay)
		return
	}

	e.backoff.Reset()
	e.sess = newLease(sess, e.epoch, e.post)
	e.pipeline.Tap(sessionTap(sess))
	e.setState(StateWakeListening)
}

// sessionTap feeds mic chunks to the live recognition session. Failures
// after the session detaches are expected and dropped.
func sessionTap(sess recog.Session) audio.Sink {
	return func(chunk []byte) {
		_ = sess.SendAudio(chunk)
	}
}

func (e *Engine) recordWakeRestart(ctx context.Context) {
	if e.metrics != nil {
		e.metrics.WakeRestarts.Add(ctx, 1)
	}
}

// scheduleWakeRestart arms a one-shot restart after delay, invalidating any
// previously scheduled timer.
func (e *Engine) scheduleWakeRestart(delay time.Duration) {
	e.timerGen++
	gen := e.timerGen
	e.setState(StateWakeListening)
	time.AfterFunc(delay, func() {
		e.post(evRestartWake{gen: gen})
	})
}

// scheduleSettle arms the settle pause before capture starts.
func (e *Engine) scheduleSettle() {
	e.timerGen++
	gen := e.timerGen
	time.AfterFunc(e.cfg.SettleDelay, func() {
		e.post(evSettle{gen: gen})
	})
}

// ── Capture lifecycle ─────────────────────────────────────────────────────

func (e *Engine) startCapture(ctx context.Context) {
	e.epoch++
	sess, err := e.provider.Start(ctx, recog.Config{
		Continuous:      true,
		InterimResults:  true,
		Language:        e.cfg.Language,
		MaxAlternatives: 1,
		SampleRate:      e.cfg.SampleRate,
		Channels:        e.cfg.Channels,
	})
	if err != nil {
		e.log.Warn("capture session start failed", "err", err)
		if e.metrics != nil {
			e.metrics.CapturesAbandoned.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", "start_failed")))
		}
		e.scheduleWakeRestart(e.cfg.SettleDelay)
		return
	}

	e.sess = newLease(sess, e.epoch, e.post)
	e.pipeline.Tap(sessionTap(sess))
	e.buffer.clear()
	e.pipeline.Open(e.captureSink())
	e.watchdog.Arm()
	e.captureStarted = time.Now()
	e.setState(StateCapturing)
}

// captureSink forwards PCM chunks to the transport. Runs on the pipeline
// goroutine; send failures are counted, not fatal.
func (e *Engine) captureSink() audio.Sink {
	ctx := e.runCtx
	return func(chunk []byte) {
		if err := e.tr.SendAudioChunk(ctx, chunk); err != nil {
			e.log.Debug("audio chunk send failed", "err", err)
			if e.metrics != nil {
				e.metrics.TransportErrors.Add(ctx, 1)
			}
		}
	}
}

func (e *Engine) handleSilence(ctx context.Context, gen uint64) {
	if e.state != StateCapturing || !e.watchdog.Valid(gen) {
		return
	}
	if e.buffer.empty() {
		e.abandonCapture(ctx, "silence_empty")
	} else {
		e.finishCapture(ctx)
	}
}

// finishCapture ends capture and sends the end-of-utterance marker. The
// pipeline is closed before the marker goes out so no audio chunk trails
// it.
func (e *Engine) finishCapture(ctx context.Context) {
	e.stopSession()
	e.pipeline.Close()
	e.watchdog.Disarm()

	if err := e.tr.SendSpeechEnd(ctx, e.mode); err != nil {
		e.log.Warn("speech end send failed", "err", err)
		if e.metrics != nil {
			e.metrics.TransportErrors.Add(ctx, 1)
		}
		e.scheduleWakeRestart(e.cfg.SettleDelay)
		return
	}

	e.log.Info("utterance sent", "mode", e.mode, "transcript", e.buffer.text())
	if e.metrics != nil {
		e.metrics.UtterancesSent.Add(ctx, 1, metric.WithAttributes(observe.Attr("mode", e.mode)))
		e.metrics.CaptureDuration.Record(ctx, time.Since(e.captureStarted).Seconds())
	}
	e.buffer.clear()
	e.sentAt = time.Now()
	e.setState(StateAwaitingResponse)
}

// abandonCapture ends capture without sending and resumes wake listening.
func (e *Engine) abandonCapture(ctx context.Context, reason string) {
	e.stopSession()
	e.pipeline.Close()
	e.watchdog.Disarm()
	if e.metrics != nil {
		e.metrics.CapturesAbandoned.Add(ctx, 1, metric.WithAttributes(observe.Attr("reason", reason)))
	}
	e.scheduleWakeRestart(e.cfg.SettleDelay)
}

// ── Response handling ─────────────────────────────────────────────────────

func (e *Engine) handleInbound(ctx context.Context, msg transport.ServerMessage) {
	if msg.Transcript != nil && e.onTranscript != nil {
		e.onTranscript(*msg.Transcript, true)
	}

	if e.state != StateAwaitingResponse {
		if msg.Error != "" {
			e.log.Warn("service error", "err", msg.Error)
		}
		return
	}

	if msg.Error != "" {
		e.log.Warn("analysis failed", "err", msg.Error)
		e.scheduleWakeRestart(e.cfg.SettleDelay)
		return
	}

	if len(msg.Analysis) > 0 {
		if e.metrics != nil {
			e.metrics.ResponseLatency.Record(ctx, time.Since(e.sentAt).Seconds())
		}
		if e.onResult != nil {
			e.onResult(msg.Analysis)
		}
		if msg.TTSAudio == "" {
			// Analysis without speech (TTS failed service-side); resume
			// listening directly.
			e.scheduleWakeRestart(e.cfg.SettleDelay)
			return
		}
	}

	if msg.TTSAudio != "" {
		e.startPlayback(msg.TTSAudio)
	}
}

func (e *Engine) startPlayback(encoded string) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) == 0 {
		e.log.Warn("response audio undecodable", "err", err)
		e.scheduleWakeRestart(e.cfg.SettleDelay)
		return
	}

	e.setState(StatePlayingResponse)
	go func() {
		err := e.player.Play(e.runCtx, data)
		e.post(evPlaybackDone{err: err})
	}()
}

func (e *Engine) handlePlaybackDone(ctx context.Context, err error) {
	if e.state != StatePlayingResponse {
		return
	}
	if err != nil {
		// Playback is a best-effort courtesy; the session continues.
		e.log.Warn("playback failed", "err", err)
		if e.metrics != nil {
			e.metrics.PlaybackFailures.Add(ctx, 1)
		}
	}
	e.scheduleWakeRestart(e.cfg.SettleDelay)
}

// ── Transport state ───────────────────────────────────────────────────────

func (e *Engine) handleConn(ctx context.Context, s transport.ConnState) {
	if e.state == StateDisabled {
		return
	}

	if s != transport.StateOpen {
		// Utterances cannot be delivered; both wake listening and capture
		// are blocked until the channel is back.
		if e.state != StateIdle {
			e.log.Warn("analysis channel lost, voice paused", "conn", s)
		}
		e.stopSession()
		e.pipeline.Close()
		e.watchdog.Disarm()
		e.timerGen++
		e.setState(StateIdle)
		return
	}

	if e.state == StateIdle && e.permission != audio.PermissionDenied {
		e.tryStartWake(ctx)
	}
}

// ── Commands ──────────────────────────────────────────────────────────────

func (e *Engine) handleCmd(ctx context.Context, cmd evCmd) error {
	switch cmd.kind {
	case cmdSend:
		if e.state != StateCapturing {
			return fmt.Errorf("engine: send while %s", e.state)
		}
		if e.buffer.empty() {
			e.abandonCapture(ctx, "send_empty")
			return nil
		}
		e.finishCapture(ctx)
		return nil

	case cmdCancel:
		if e.state != StateCapturing {
			return fmt.Errorf("engine: cancel while %s", e.state)
		}
		e.abandonCapture(ctx, "cancel")
		return nil

	case cmdSetMode:
		mode := strings.ToLower(cmd.mode)
		if !e.detector.HasMode(mode) {
			return fmt.Errorf("engine: unknown mode %q", cmd.mode)
		}
		if e.state != StateWakeListening {
			return fmt.Errorf("engine: mode switch while %s", e.state)
		}
		if mode == e.mode {
			return nil
		}
		e.mode = mode
		e.stopSession()
		// Same settle as a wake-detected transition; the wake session
		// restarts with the new vocabulary.
		e.scheduleWakeRestart(e.cfg.SettleDelay)
		return nil

	case cmdReset:
		e.teardown()
		e.timerGen++
		e.permission = e.prober.Probe(ctx)
		if e.permission == audio.PermissionDenied {
			e.setState(StateDisabled)
			return errors.New("engine: microphone permission denied")
		}
		if e.tr.State() != transport.StateOpen {
			e.setState(StateIdle)
			return nil
		}
		e.tryStartWake(ctx)
		return nil

	default:
		return fmt.Errorf("engine: unknown command %d", cmd.kind)
	}
}

// ── Teardown helpers ──────────────────────────────────────────────────────

func (e *Engine) stopSession() {
	if e.sess != nil {
		e.pipeline.Tap(nil)
		e.sess.stop()
		e.sess = nil
	}
}

func (e *Engine) disable() {
	e.log.Warn("microphone permission denied, voice disabled")
	e.teardown()
	e.timerGen++
	e.permission = audio.PermissionDenied
	e.setState(StateDisabled)
}

func (e *Engine) teardown() {
	e.stopSession()
	e.pipeline.Close()
	e.watchdog.Disarm()
	e.buffer.clear()
}

func (e *Engine) setState(s State) {
	if e.state != s {
		e.log.Debug("state transition", "from", e.state, "to", s)
	}
	e.state = s
	if e.metrics != nil && e.runCtx != nil {
		e.metrics.RecordEngineState(e.runCtx, int64(s), s.String())
	}

	e.mu.Lock()
	e.snap = Snapshot{
		State:      s,
		Mode:       e.mode,
		Status:     s.StatusLine(),
		Transcript: e.buffer.display(),
		Permission: e.permission,
		Conn:       e.tr.State(),
	}
	e.mu.Unlock()
}

// publishTranscript refreshes the snapshot's transcript between state
// transitions, while fragments accumulate during capture.
func (e *Engine) publishTranscript() {
	e.mu.Lock()
	e.snap.Transcript = e.buffer.display()
	e.mu.Unlock()
}
