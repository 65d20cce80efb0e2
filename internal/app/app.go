// Package app wires all coachvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from the configuration, Run executes them until the context is
// cancelled, and Shutdown tears everything down.
//
// For testing, inject doubles via functional options (WithRecognizer,
// WithTransport, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pkarolyi/coachvox/internal/config"
	"github.com/pkarolyi/coachvox/internal/engine"
	"github.com/pkarolyi/coachvox/internal/health"
	"github.com/pkarolyi/coachvox/internal/observe"
	"github.com/pkarolyi/coachvox/internal/transport"
	"github.com/pkarolyi/coachvox/internal/wake"
	"github.com/pkarolyi/coachvox/pkg/audio"
	"github.com/pkarolyi/coachvox/pkg/audio/ffmpeg"
	"github.com/pkarolyi/coachvox/pkg/audio/mp3"
	"github.com/pkarolyi/coachvox/pkg/recog"
)

// App owns all subsystem lifetimes and orchestrates the voice session
// pipeline.
type App struct {
	cfg *config.Config
	log *slog.Logger

	detector *wake.Detector
	provider recog.Provider
	remote   engine.Transport
	device   audio.Device
	pipeline *audio.Pipeline
	player   audio.Player
	prober   audio.Prober
	metrics  *observe.Metrics
	engine   *engine.Engine
	httpSrv  *http.Server

	onResult     engine.ResultSink
	onTranscript engine.TranscriptSink

	// relay delivers connection state changes to the engine once it exists.
	relay *connRelay

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithRecognizer injects a recognition provider instead of creating one via
// the registry.
func WithRecognizer(p recog.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithTransport injects an analysis channel instead of dialling the
// configured service.
func WithTransport(tr engine.Transport) Option {
	return func(a *App) { a.remote = tr }
}

// WithAudioDevice injects a capture device instead of spawning ffmpeg.
func WithAudioDevice(dev audio.Device) Option {
	return func(a *App) { a.device = dev }
}

// WithPlayer injects a response player.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithProber injects a microphone permission probe.
func WithProber(p audio.Prober) Option {
	return func(a *App) { a.prober = p }
}

// WithMetrics attaches metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithResultSink registers the analysis renderer passed to the engine.
func WithResultSink(fn engine.ResultSink) Option {
	return func(a *App) { a.onResult = fn }
}

// WithTranscriptSink registers the transcript display passed to the engine.
func WithTranscriptSink(fn engine.TranscriptSink) Option {
	return func(a *App) { a.onTranscript = fn }
}

// connRelay forwards connection state changes to the engine. The transport
// is created before the engine, so early notifications arrive before there
// is anyone to tell; those are safe to drop because the engine reads the
// live connection state when Run starts.
type connRelay struct {
	mu     sync.Mutex
	engine *engine.Engine
}

func (r *connRelay) bind(e *engine.Engine) {
	r.mu.Lock()
	r.engine = e
	r.mu.Unlock()
}

func (r *connRelay) notify(s transport.ConnState) {
	r.mu.Lock()
	e := r.engine
	r.mu.Unlock()
	if e != nil {
		e.NotifyConnState(s)
	}
}

// New creates an App by wiring all subsystems together. The registry maps
// recognizer names from the config to provider factories; main populates it.
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		log:   slog.Default(),
		relay: &connRelay{},
	}
	for _, o := range opts {
		o(a)
	}

	a.detector = buildDetector(cfg)

	if a.provider == nil {
		p, err := registry.CreateRecognizer(cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("app: create recognizer: %w", err)
		}
		a.provider = p
	}

	a.initAudio()

	if a.remote == nil {
		a.remote = NewRemote(cfg.Service.URL, cfg.Service.Token,
			WithRemoteLogger(a.log),
			WithStateListener(a.relay.notify),
		)
	}

	if err := a.initEngine(); err != nil {
		return nil, err
	}
	a.relay.bind(a.engine)

	a.initHTTP()

	return a, nil
}

// buildDetector assembles the wake detector from the configured mode
// vocabularies.
func buildDetector(cfg *config.Config) *wake.Detector {
	var detOpts []wake.Option
	if cfg.Engine.WakeThreshold > 0 {
		detOpts = append(detOpts, wake.WithThreshold(cfg.Engine.WakeThreshold))
	}
	if cfg.Engine.PhoneticMinSimilarity > 0 {
		detOpts = append(detOpts, wake.WithPhoneticFallback(cfg.Engine.PhoneticMinSimilarity))
	}
	return wake.NewDetector(configVocabularies(cfg.Modes), detOpts...)
}

// initAudio creates the capture device, pipeline, player and prober unless
// injected.
func (a *App) initAudio() {
	ffCfg := ffmpeg.Config{
		InputFormat:   a.cfg.Audio.InputFormat,
		InputDevice:   a.cfg.Audio.InputDevice,
		SampleRate:    a.cfg.Audio.SampleRate,
		Channels:      a.cfg.Audio.Channels,
		ChunkInterval: time.Duration(a.cfg.Audio.ChunkIntervalMs) * time.Millisecond,
	}

	if a.device == nil {
		dev := ffmpeg.NewDevice(ffCfg)
		a.device = dev
		a.closers = append(a.closers, dev.Close)
	}
	a.pipeline = audio.NewPipeline(a.device)

	if a.player == nil {
		a.player = mp3.NewPlayer(mp3.NewCommandSink(a.cfg.Audio.PlaybackCommand))
	}
	if a.prober == nil {
		a.prober = ffmpeg.NewProber(ffCfg)
	}
}

// initEngine assembles the session state machine.
func (a *App) initEngine() error {
	engCfg := engine.Config{
		DefaultMode:    a.cfg.Engine.DefaultMode,
		SettleDelay:    time.Duration(a.cfg.Engine.SettleDelayMs) * time.Millisecond,
		SilenceWindow:  time.Duration(a.cfg.Engine.SilenceWindowMs) * time.Millisecond,
		BackoffFloor:   time.Duration(a.cfg.Engine.BackoffFloorMs) * time.Millisecond,
		BackoffCeiling: time.Duration(a.cfg.Engine.BackoffCeilingMs) * time.Millisecond,
		BackoffFactor:  a.cfg.Engine.BackoffFactor,
		Language:       a.cfg.Recognizer.Language,
		SampleRate:     a.cfg.Audio.SampleRate,
		Channels:       a.cfg.Audio.Channels,
	}

	engOpts := []engine.Option{engine.WithLogger(a.log)}
	if a.metrics != nil {
		engOpts = append(engOpts, engine.WithMetrics(a.metrics))
	}
	if a.onResult != nil {
		engOpts = append(engOpts, engine.WithResultSink(a.onResult))
	}
	if a.onTranscript != nil {
		engOpts = append(engOpts, engine.WithTranscriptSink(a.onTranscript))
	}

	eng, err := engine.New(engCfg, a.detector, a.provider, a.remote, a.pipeline,
		a.player, a.prober, engOpts...)
	if err != nil {
		return fmt.Errorf("app: create engine: %w", err)
	}
	a.engine = eng
	return nil
}

// initHTTP sets up the health and metrics server when a listen address is
// configured.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	checkers := []health.Checker{
		{Name: "transport", Check: func(context.Context) error {
			if a.remote.State() != transport.StateOpen {
				return errors.New("analysis channel not open")
			}
			return nil
		}},
		{Name: "microphone", Check: func(context.Context) error {
			if a.engine.Status().Permission == audio.PermissionDenied {
				return errors.New("microphone permission denied")
			}
			return nil
		}},
	}

	mux := http.NewServeMux()
	h := health.New(a.engine, checkers...)
	h.Register(mux)
	h.RegisterControl(mux, a.engine)
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Engine exposes the session state machine for command surfaces.
func (a *App) Engine() *engine.Engine { return a.engine }

// Run starts all subsystems and blocks until ctx is cancelled or one of them
// fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if r, ok := a.remote.(*Remote); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	g.Go(func() error {
		// A capture failure leaves the engine disabled rather than killing
		// the app; the status surface reports it and Reset can re-probe.
		if err := a.pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("audio capture unavailable", "error", err)
		}
		return nil
	})
	g.Go(func() error { return a.engine.Run(ctx) })

	if a.httpSrv != nil {
		g.Go(func() error {
			err := a.httpSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutCtx)
		})
	}

	a.log.Info("coachvox running",
		"mode", a.engine.Status().Mode,
		"service", a.cfg.Service.URL,
		"listen", a.cfg.Server.ListenAddr)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ApplyConfig applies a validated configuration reload. Only hot-reloadable
// fields take effect: the similarity threshold and the wake vocabularies.
// The caller handles the log level, which lives outside the app.
func (a *App) ApplyConfig(old, new *config.Config) {
	diff := config.ComputeDiff(old, new)
	if !diff.HasChanges() {
		return
	}

	if diff.ThresholdChanged {
		a.detector.SetThreshold(diff.NewThreshold)
		a.log.Info("wake threshold updated", "threshold", diff.NewThreshold)
	}
	if len(diff.ModesAdded)+len(diff.ModesRemoved)+len(diff.ModesChanged) > 0 {
		a.detector.Reload(configVocabularies(new.Modes))
		a.log.Info("wake vocabularies reloaded",
			"added", diff.ModesAdded, "removed", diff.ModesRemoved, "changed", diff.ModesChanged)
	}
}

// Shutdown releases resources not tied to the Run context.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		for i, closer := range a.closers {
			if err := closer(); err != nil {
				a.log.Warn("closer failed", "index", i, "error", err)
			}
		}
	})
}

// configVocabularies converts config mode entries to wake vocabularies.
func configVocabularies(modes []config.ModeConfig) []wake.Vocabulary {
	out := make([]wake.Vocabulary, 0, len(modes))
	for _, m := range modes {
		out = append(out, wake.Vocabulary{
			Mode:      m.Name,
			Phrases:   m.WakePhrases,
			Fallbacks: m.FallbackKeywords,
		})
	}
	return out
}
