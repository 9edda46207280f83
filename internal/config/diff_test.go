package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   config.LogInfo,
		},
		Pipeline: config.PipelineConfig{
			SystemPrompt: "Be concise.",
			VoiceID:      "en-US-ken",
			Debounce:     time.Second,
		},
		History: config.HistoryConfig{MaxMessages: 50},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()

	d := config.Diff(old, new)
	if d.Any() {
		t.Errorf("Diff of identical configs reports changes: %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("LogLevelChanged = false, want true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, config.LogDebug)
	}
	if d.PipelineChanged {
		t.Error("PipelineChanged = true for a log-level-only change")
	}
}

func TestDiff_PipelineFields(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "system prompt",
			mutate: func(c *config.Config) { c.Pipeline.SystemPrompt = "Be verbose." },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SystemPromptChanged {
					t.Error("SystemPromptChanged = false")
				}
			},
		},
		{
			name:   "voice",
			mutate: func(c *config.Config) { c.Pipeline.VoiceID = "en-UK-hazel" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.VoiceChanged {
					t.Error("VoiceChanged = false")
				}
			},
		},
		{
			name:   "debounce",
			mutate: func(c *config.Config) { c.Pipeline.Debounce = 2 * time.Second },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.DebounceChanged {
					t.Error("DebounceChanged = false")
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := baseConfig()
			new := baseConfig()
			tc.mutate(new)

			d := config.Diff(old, new)
			if !d.PipelineChanged {
				t.Error("PipelineChanged = false")
			}
			if !d.Any() {
				t.Error("Any() = false")
			}
			tc.check(t, d)
		})
	}
}

func TestDiff_HistoryLimit(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.History.MaxMessages = 10

	d := config.Diff(old, new)
	if !d.HistoryLimitChanged {
		t.Error("HistoryLimitChanged = false, want true")
	}
	if !d.Any() {
		t.Error("Any() = false, want true")
	}
}

func TestDiff_ProviderChangesAreIgnored(t *testing.T) {
	t.Parallel()
	old := baseConfig()
	new := baseConfig()
	new.Providers.LLM.Name = "anthropic"
	new.Server.ListenAddr = ":9090"

	// Providers and listener need a restart, so the diff does not track them.
	d := config.Diff(old, new)
	if d.Any() {
		t.Errorf("Diff reports hot-reloadable changes for restart-only fields: %+v", d)
	}
}
