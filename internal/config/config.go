// Package config defines the YAML configuration schema for the voice session
// service and the machinery around it: strict loading and validation, a
// recognizer provider registry, a polling file watcher for live reload, and
// change diffing for the fields that may change at runtime.
package config

import "log/slog"

// LogLevel is the textual log level accepted in configuration files.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether the level is one of the accepted values.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Slog maps the level onto its slog equivalent. Unknown levels map to Info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root of the YAML configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Service    ServiceConfig    `yaml:"service"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Audio      AudioConfig      `yaml:"audio"`
	Engine     EngineConfig     `yaml:"engine"`

	// Modes lists the session modes the wake detector knows about. At least
	// one mode must be configured.
	Modes []ModeConfig `yaml:"modes"`
}

// ServerConfig covers the local HTTP surface and logging.
type ServerConfig struct {
	// ListenAddr is the bind address for the health and metrics endpoints,
	// e.g. ":8080". Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel sets the minimum level written to the log output.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, routes logs to a rotating file instead of stderr.
	LogFile string `yaml:"log_file"`
}

// ServiceConfig describes the remote analysis service.
type ServiceConfig struct {
	// URL is the WebSocket endpoint of the analysis service
	// (ws:// or wss://).
	URL string `yaml:"url"`

	// Token authenticates the session against the analysis service.
	Token string `yaml:"token"`
}

// RecognizerConfig selects and configures the speech recognition backend.
type RecognizerConfig struct {
	// Name is the registered provider name, e.g. "deepgram".
	Name string `yaml:"name"`

	// APIKey authenticates against the recognition backend.
	APIKey string `yaml:"api_key"`

	// Model is the backend-specific model identifier. Empty uses the
	// provider's default.
	Model string `yaml:"model"`

	// Language is the BCP-47 language tag for recognition.
	Language string `yaml:"language"`
}

// AudioConfig covers microphone capture and response playback.
type AudioConfig struct {
	// InputFormat is the ffmpeg input format, e.g. "pulse" or "alsa".
	InputFormat string `yaml:"input_format"`

	// InputDevice is the capture device name for the chosen format.
	InputDevice string `yaml:"input_device"`

	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count.
	Channels int `yaml:"channels"`

	// ChunkIntervalMs is the duration of one PCM chunk in milliseconds.
	ChunkIntervalMs int `yaml:"chunk_interval_ms"`

	// PlaybackCommand is the command template used to play decoded PCM.
	// {rate} and {channels} are substituted before the command runs.
	PlaybackCommand string `yaml:"playback_command"`
}

// EngineConfig tunes the session state machine.
type EngineConfig struct {
	// DefaultMode is the mode active at startup. Must name one of the
	// configured modes.
	DefaultMode string `yaml:"default_mode"`

	// WakeThreshold is the minimum similarity score for a wake phrase
	// match, in (0, 1]. Zero uses the detector default.
	WakeThreshold float64 `yaml:"wake_threshold"`

	// PhoneticMinSimilarity enables the phonetic second-chance match: a
	// transcript window whose metaphone encoding scores at least this
	// Jaro-Winkler similarity against a wake phrase counts as a match even
	// below WakeThreshold. In (0, 1]; zero disables the phonetic pass.
	PhoneticMinSimilarity float64 `yaml:"phonetic_min_similarity"`

	// SettleDelayMs is the pause between recognition runs in milliseconds.
	SettleDelayMs int `yaml:"settle_delay_ms"`

	// SilenceWindowMs ends a capture after this much silence.
	SilenceWindowMs int `yaml:"silence_window_ms"`

	// BackoffFloorMs, BackoffCeilingMs and BackoffFactor shape the retry
	// delay for failed wake session starts.
	BackoffFloorMs   int     `yaml:"backoff_floor_ms"`
	BackoffCeilingMs int     `yaml:"backoff_ceiling_ms"`
	BackoffFactor    float64 `yaml:"backoff_factor"`
}

// ModeConfig is the wake vocabulary for one session mode.
type ModeConfig struct {
	// Name identifies the mode towards the analysis service, e.g. "fifa".
	Name string `yaml:"name"`

	// WakePhrases are the phrases matched by similarity against the
	// transcript.
	WakePhrases []string `yaml:"wake_phrases"`

	// FallbackKeywords are matched as plain substrings when no phrase
	// scores above the threshold.
	FallbackKeywords []string `yaml:"fallback_keywords"`
}
