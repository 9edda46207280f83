package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and
// listener changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PipelineChanged is true when any of the tunable pipeline fields
	// differ. New sessions pick the values up; running sessions keep the
	// parameters they started with.
	PipelineChanged     bool
	SystemPromptChanged bool
	VoiceChanged        bool
	DebounceChanged     bool

	// HistoryLimitChanged is true when history.max_messages differs.
	HistoryLimitChanged bool
}

// Any reports whether the diff contains at least one change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.PipelineChanged || d.HistoryLimitChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Pipeline.SystemPrompt != new.Pipeline.SystemPrompt {
		d.SystemPromptChanged = true
	}
	if old.Pipeline.VoiceID != new.Pipeline.VoiceID {
		d.VoiceChanged = true
	}
	if old.Pipeline.Debounce != new.Pipeline.Debounce {
		d.DebounceChanged = true
	}
	d.PipelineChanged = d.SystemPromptChanged || d.VoiceChanged || d.DebounceChanged

	if old.History.MaxMessages != new.History.MaxMessages {
		d.HistoryLimitChanged = true
	}

	return d
}
