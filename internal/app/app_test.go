package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkarolyi/coachvox/internal/app"
	"github.com/pkarolyi/coachvox/internal/config"
	"github.com/pkarolyi/coachvox/internal/engine"
	"github.com/pkarolyi/coachvox/internal/transport"
	"github.com/pkarolyi/coachvox/pkg/audio"
	amock "github.com/pkarolyi/coachvox/pkg/audio/mock"
	"github.com/pkarolyi/coachvox/pkg/recog"
	rmock "github.com/pkarolyi/coachvox/pkg/recog/mock"
)

// fakeChannel implements engine.Transport with a fixed open state.
type fakeChannel struct {
	mu      sync.Mutex
	state   transport.ConnState
	inbound chan transport.ServerMessage
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		state:   transport.StateOpen,
		inbound: make(chan transport.ServerMessage, 16),
	}
}

func (f *fakeChannel) SendAudioChunk(context.Context, []byte) error { return nil }
func (f *fakeChannel) SendSpeechEnd(context.Context, string) error  { return nil }
func (f *fakeChannel) Inbound() <-chan transport.ServerMessage      { return f.inbound }

func (f *fakeChannel) State() transport.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func testAppConfig() *config.Config {
	return &config.Config{
		Service:    config.ServiceConfig{URL: "wss://coach.example.com/ws/analysis/", Token: "tok"},
		Recognizer: config.RecognizerConfig{Name: "mock", APIKey: "key"},
		Engine:     config.EngineConfig{DefaultMode: "fifa", SettleDelayMs: 10, SilenceWindowMs: 100},
		Modes: []config.ModeConfig{
			{Name: "fifa", WakePhrases: []string{"hey fifa"}, FallbackKeywords: []string{"fifa"}},
			{Name: "lol", WakePhrases: []string{"hey league"}, FallbackKeywords: []string{"lol"}},
		},
	}
}

// newTestApp builds an App with every external dependency replaced.
func newTestApp(t *testing.T, cfg *config.Config, provider *rmock.Provider) *app.App {
	t.Helper()
	a, err := app.New(cfg, config.NewRegistry(),
		app.WithRecognizer(provider),
		app.WithTransport(newFakeChannel()),
		app.WithAudioDevice(amock.NewDevice()),
		app.WithPlayer(&amock.Player{}),
		app.WithProber(&amock.Prober{Result: audio.PermissionGranted}),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	return a
}

func runApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("app did not shut down")
		}
		a.Shutdown()
	})
}

func waitEngineState(t *testing.T, eng *engine.Engine, want engine.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if eng.Status().State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("engine state = %v, want %v", eng.Status().State, want)
}

func TestNewCreatesRecognizerViaRegistry(t *testing.T) {
	t.Parallel()

	registry := config.NewRegistry()
	var gotCfg config.RecognizerConfig
	registry.RegisterRecognizer("mock", func(cfg config.RecognizerConfig) (recog.Provider, error) {
		gotCfg = cfg
		return &rmock.Provider{}, nil
	})

	a, err := app.New(testAppConfig(), registry,
		app.WithTransport(newFakeChannel()),
		app.WithAudioDevice(amock.NewDevice()),
		app.WithPlayer(&amock.Player{}),
		app.WithProber(&amock.Prober{Result: audio.PermissionGranted}),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	if a.Engine() == nil {
		t.Fatal("Engine() = nil")
	}
	if gotCfg.Name != "mock" || gotCfg.APIKey != "key" {
		t.Errorf("factory received %+v", gotCfg)
	}
}

func TestNewUnknownRecognizerFails(t *testing.T) {
	t.Parallel()

	_, err := app.New(testAppConfig(), config.NewRegistry(),
		app.WithTransport(newFakeChannel()),
		app.WithAudioDevice(amock.NewDevice()),
		app.WithPlayer(&amock.Player{}),
		app.WithProber(&amock.Prober{Result: audio.PermissionGranted}),
	)
	if err == nil {
		t.Fatal("app.New with unregistered recognizer succeeded, want error")
	}
}

func TestRunReachesWakeListening(t *testing.T) {
	t.Parallel()

	provider := &rmock.Provider{}
	a := newTestApp(t, testAppConfig(), provider)
	runApp(t, a)

	waitEngineState(t, a.Engine(), engine.StateWakeListening)
	if got := a.Engine().Status().Mode; got != "fifa" {
		t.Errorf("mode = %q, want fifa", got)
	}
}

func TestApplyConfigReloadsVocabularies(t *testing.T) {
	t.Parallel()

	provider := &rmock.Provider{}
	old := testAppConfig()
	a := newTestApp(t, old, provider)
	runApp(t, a)
	waitEngineState(t, a.Engine(), engine.StateWakeListening)

	updated := testAppConfig()
	updated.Modes = append(updated.Modes, config.ModeConfig{
		Name:        "rocket",
		WakePhrases: []string{"hey rocket"},
	})
	a.ApplyConfig(old, updated)

	if err := a.Engine().SetMode("rocket"); err != nil {
		t.Fatalf("SetMode(rocket) after reload = %v", err)
	}
	if err := a.Engine().SetMode("chess"); err == nil {
		t.Fatal("SetMode(chess) succeeded for unconfigured mode")
	}
}
