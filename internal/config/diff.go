package config

import "slices"

// Diff describes the differences between two configurations for the fields
// that take effect without a restart: the log level, the wake threshold and
// the wake vocabularies.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	// ModesAdded, ModesRemoved and ModesChanged carry mode names. A mode is
	// changed when its wake phrases or fallback keywords differ.
	ModesAdded   []string
	ModesRemoved []string
	ModesChanged []string
}

// HasChanges reports whether the diff carries any difference.
func (d Diff) HasChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged ||
		len(d.ModesAdded) > 0 || len(d.ModesRemoved) > 0 || len(d.ModesChanged) > 0
}

// ComputeDiff compares old and new configurations over the hot-reloadable
// fields. Fields that require a restart (service URL, recognizer, audio
// devices) are ignored here.
func ComputeDiff(old, new *Config) Diff {
	var d Diff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Engine.WakeThreshold != new.Engine.WakeThreshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Engine.WakeThreshold
	}

	oldModes := modesByName(old.Modes)
	newModes := modesByName(new.Modes)

	for _, m := range new.Modes {
		prev, ok := oldModes[m.Name]
		switch {
		case !ok:
			d.ModesAdded = append(d.ModesAdded, m.Name)
		case !slices.Equal(prev.WakePhrases, m.WakePhrases) ||
			!slices.Equal(prev.FallbackKeywords, m.FallbackKeywords):
			d.ModesChanged = append(d.ModesChanged, m.Name)
		}
	}
	for _, m := range old.Modes {
		if _, ok := newModes[m.Name]; !ok {
			d.ModesRemoved = append(d.ModesRemoved, m.Name)
		}
	}

	return d
}

func modesByName(modes []ModeConfig) map[string]ModeConfig {
	byName := make(map[string]ModeConfig, len(modes))
	for _, m := range modes {
		byName[m.Name] = m
	}
	return byName
}
