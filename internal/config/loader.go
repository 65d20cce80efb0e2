package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader decodes YAML from r strictly (unknown keys are errors) and
// validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for internal consistency. All failures
// are collected and returned joined, so a broken file reports every problem
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.LogLevel != "" && !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}

	if c.Service.URL == "" {
		errs = append(errs, errors.New("service.url: must not be empty"))
	} else if u, err := url.Parse(c.Service.URL); err != nil {
		errs = append(errs, fmt.Errorf("service.url: %w", err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("service.url: scheme must be ws or wss, got %q", u.Scheme))
	}
	if c.Service.Token == "" {
		slog.Warn("service.token is empty, the analysis service will likely reject the session")
	}

	if c.Recognizer.Name == "" {
		errs = append(errs, errors.New("recognizer.name: must not be empty"))
	}
	if c.Recognizer.APIKey == "" {
		errs = append(errs, errors.New("recognizer.api_key: must not be empty"))
	}

	if c.Audio.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate: must not be negative, got %d", c.Audio.SampleRate))
	}
	if c.Audio.Channels < 0 {
		errs = append(errs, fmt.Errorf("audio.channels: must not be negative, got %d", c.Audio.Channels))
	}
	if c.Audio.ChunkIntervalMs < 0 {
		errs = append(errs, fmt.Errorf("audio.chunk_interval_ms: must not be negative, got %d", c.Audio.ChunkIntervalMs))
	}

	if t := c.Engine.WakeThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("engine.wake_threshold: must be in [0, 1], got %g", t))
	}
	if p := c.Engine.PhoneticMinSimilarity; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("engine.phonetic_min_similarity: must be in [0, 1], got %g", p))
	}
	if f := c.Engine.BackoffFactor; f != 0 && f <= 1 {
		errs = append(errs, fmt.Errorf("engine.backoff_factor: must be greater than 1, got %g", f))
	}
	if c.Engine.BackoffCeilingMs != 0 && c.Engine.BackoffCeilingMs < c.Engine.BackoffFloorMs {
		errs = append(errs, fmt.Errorf("engine.backoff_ceiling_ms: must not be below backoff_floor_ms (%d < %d)",
			c.Engine.BackoffCeilingMs, c.Engine.BackoffFloorMs))
	}

	if len(c.Modes) == 0 {
		errs = append(errs, errors.New("modes: at least one mode must be configured"))
	}
	seen := make(map[string]bool, len(c.Modes))
	for i, m := range c.Modes {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("modes[%d].name: must not be empty", i))
			continue
		}
		if seen[m.Name] {
			errs = append(errs, fmt.Errorf("modes[%d].name: duplicate mode %q", i, m.Name))
		}
		seen[m.Name] = true
		if len(m.WakePhrases) == 0 {
			errs = append(errs, fmt.Errorf("modes[%d] (%s): wake_phrases must not be empty", i, m.Name))
		}
	}

	if d := c.Engine.DefaultMode; d != "" && len(c.Modes) > 0 && !seen[d] {
		errs = append(errs, fmt.Errorf("engine.default_mode: %q is not a configured mode", d))
	}

	return errors.Join(errs...)
}
