package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"assemblyai"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"murf"},
}

// envOverrides maps environment variables onto config fields. Environment
// values win over the YAML file so that secrets can stay out of it.
type envOverrides struct {
	ListenAddr      string `env:"PARLEY_LISTEN_ADDR"`
	STTAPIKey       string `env:"PARLEY_STT_API_KEY"`
	LLMAPIKey       string `env:"PARLEY_LLM_API_KEY"`
	TTSAPIKey       string `env:"PARLEY_TTS_API_KEY"`
	PostgresDSN     string `env:"PARLEY_POSTGRES_DSN"`
	TavilyAPIKey    string `env:"PARLEY_TAVILY_API_KEY"`
	WeatherAPIKey   string `env:"PARLEY_OPENWEATHER_API_KEY"`
	NewsAPIKey      string `env:"PARLEY_NEWS_API_KEY"`
	TranslateAPIKey string `env:"PARLEY_TRANSLATE_API_KEY"`
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg. Unset variables leave the
// file values untouched.
func applyEnv(cfg *Config) error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("config: parse environment: %w", err)
	}
	if ov.ListenAddr != "" {
		cfg.Server.ListenAddr = ov.ListenAddr
	}
	if ov.STTAPIKey != "" {
		cfg.Providers.STT.APIKey = ov.STTAPIKey
	}
	if ov.LLMAPIKey != "" {
		cfg.Providers.LLM.APIKey = ov.LLMAPIKey
	}
	if ov.TTSAPIKey != "" {
		cfg.Providers.TTS.APIKey = ov.TTSAPIKey
	}
	if ov.PostgresDSN != "" {
		cfg.History.PostgresDSN = ov.PostgresDSN
	}
	if ov.TavilyAPIKey != "" {
		cfg.Skills.TavilyAPIKey = ov.TavilyAPIKey
	}
	if ov.WeatherAPIKey != "" {
		cfg.Skills.OpenWeatherAPIKey = ov.WeatherAPIKey
	}
	if ov.NewsAPIKey != "" {
		cfg.Skills.NewsAPIKey = ov.NewsAPIKey
	}
	if ov.TranslateAPIKey != "" {
		cfg.Skills.TranslateAPIKey = ov.TranslateAPIKey
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for _, entry := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", entry.Name)
	}
	for _, entry := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", entry.Name)
	}
	for _, entry := range cfg.Providers.TTSFallbacks {
		validateProviderName("tts", entry.Name)
	}

	// Provider availability warnings: the server still starts without a full
	// stack so that health endpoints and voice listing keep working, but
	// voice sessions will be rejected.
	if cfg.Providers.STT.Name == "" || cfg.Providers.LLM.Name == "" || cfg.Providers.TTS.Name == "" {
		slog.Warn("provider stack incomplete; voice sessions will be rejected",
			"stt", cfg.Providers.STT.Name,
			"llm", cfg.Providers.LLM.Name,
			"tts", cfg.Providers.TTS.Name,
		)
	}

	// Pipeline tuning
	if cfg.Pipeline.Debounce < 0 {
		errs = append(errs, fmt.Errorf("pipeline.debounce %v must not be negative", cfg.Pipeline.Debounce))
	}
	if cfg.Pipeline.KeepaliveInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.keepalive_interval %v must not be negative", cfg.Pipeline.KeepaliveInterval))
	}
	if cfg.Pipeline.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("pipeline.sample_rate %d must not be negative", cfg.Pipeline.SampleRate))
	}

	// History
	if cfg.History.MaxMessages < 0 {
		errs = append(errs, fmt.Errorf("history.max_messages %d must not be negative", cfg.History.MaxMessages))
	}
	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; chat history will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
