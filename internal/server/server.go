// Package server assembles the HTTP surface of the voice agent: the duplex
// WebSocket endpoint that drives the streaming pipeline, one-shot REST
// endpoints for the individual providers, chat history access, and the
// health and metrics routes.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/health"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/skills"
	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// defaultKeepalive is the WebSocket ping interval used when the config does
// not set one.
const defaultKeepalive = 30 * time.Second

// Providers bundles the pipeline backends. Any field may be nil when the
// corresponding provider is not configured; voice sessions are then rejected
// while the unaffected REST endpoints keep working.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

func (p Providers) complete() bool {
	return p.STT != nil && p.LLM != nil && p.TTS != nil
}

// Server holds the wired application surface. Construct it with [New] and
// mount [Server.Handler] on an http.Server.
type Server struct {
	cfg      *config.Config
	prov     Providers
	hist     history.Store
	registry *session.Registry[*pipeline.Pipeline]
	skills   *skills.Manager
	metrics  *observe.Metrics
	log      *slog.Logger

	// Hot-reloadable settings; guarded because the config watcher updates
	// them while connection handlers read them.
	mu        sync.RWMutex
	pcfg      config.PipelineConfig
	histLimit int
}

// Option customises a [Server].
type Option func(*Server)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSkills sets the skill manager used by the agent chat endpoint. Without
// it the endpoint answers from the model alone.
func WithSkills(m *skills.Manager) Option {
	return func(s *Server) { s.skills = m }
}

// New creates a Server. hist must be non-nil; use the in-memory store when no
// database is configured.
func New(cfg *config.Config, prov Providers, hist history.Store, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		prov:      prov,
		hist:      hist,
		log:       slog.Default(),
		pcfg:      cfg.Pipeline,
		histLimit: cfg.History.MaxMessages,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.registry = session.NewRegistry[*pipeline.Pipeline](
		session.WithLogger(s.log),
		session.WithMetrics(s.metrics),
	)
	return s
}

// Handler returns the full route tree wrapped in the tracing and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.Checker{Name: "providers", Check: s.checkProviders},
	).Register(mux)
	mux.Handle("GET /health", health.Legacy(s.serviceFlags))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /ws/voice-agent", s.handleVoiceAgent)

	mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /v1/generate", s.handleGenerate)
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("POST /v1/agent/chat/{session_id}", s.handleAgentChat)
	mux.HandleFunc("GET /v1/chat/{session_id}/history", s.handleHistoryGet)
	mux.HandleFunc("DELETE /v1/chat/{session_id}/history", s.handleHistoryClear)

	if s.cfg.Server.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	}

	return observe.Middleware(s.metrics)(mux)
}

// Sessions exposes the session registry for shutdown and inspection.
func (s *Server) Sessions() *session.Registry[*pipeline.Pipeline] {
	return s.registry
}

func (s *Server) checkProviders(ctx context.Context) error {
	if !s.prov.complete() {
		return errors.New("providers not fully configured")
	}
	return nil
}

// serviceFlags reports which backends are configured, in the shape the legacy
// /health endpoint exposes.
func (s *Server) serviceFlags() map[string]bool {
	return map[string]bool{
		"stt":     s.prov.STT != nil,
		"llm":     s.prov.LLM != nil,
		"tts":     s.prov.TTS != nil,
		"history": s.hist != nil,
	}
}

// ApplyPipelineConfig swaps the hot-reloadable pipeline settings. Live
// sessions keep their current settings; new sessions pick up the change.
func (s *Server) ApplyPipelineConfig(pc config.PipelineConfig, maxMessages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcfg = pc
	s.histLimit = maxMessages
}

func (s *Server) pipelineConfig() (config.PipelineConfig, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pcfg, s.histLimit
}

func (s *Server) systemPrompt() string {
	pc, _ := s.pipelineConfig()
	return pc.SystemPrompt
}

func (s *Server) defaultVoice() string {
	pc, _ := s.pipelineConfig()
	return pc.VoiceID
}

func (s *Server) keepaliveInterval() time.Duration {
	pc, _ := s.pipelineConfig()
	if pc.KeepaliveInterval > 0 {
		return pc.KeepaliveInterval
	}
	return defaultKeepalive
}

func (s *Server) sampleRate() int {
	pc, _ := s.pipelineConfig()
	if pc.SampleRate > 0 {
		return pc.SampleRate
	}
	return pipeline.DefaultSampleRate
}
