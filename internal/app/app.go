// Package app wires all Parley subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/server"
	"github.com/MrWong99/parley/internal/skills"
	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/history/postgres"
)

// httpShutdownGrace bounds how long in-flight HTTP requests may finish after
// the run context ends.
const httpShutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	srv   *server.Server
	http  *http.Server
	ln    net.Listener
	store history.Store

	watcher  *config.Watcher
	levelVar *slog.LevelVar
	metrics  *observe.Metrics

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a chat history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevelVar connects the logger's level to config hot-reload. The
// caller builds its handler around the same LevelVar.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). configPath enables the
// file watcher for hot reload; pass "" to disable it.
func New(ctx context.Context, cfg *config.Config, prov server.Providers, configPath string, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init history store: %w", err)
	}

	a.srv = server.New(cfg, prov, a.store,
		server.WithMetrics(a.metrics),
		server.WithSkills(buildSkills(cfg.Skills)),
	)

	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http listener: %w", err)
	}

	if configPath != "" {
		w, err := config.NewWatcher(configPath, a.applyConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	return a, nil
}

// initStore connects the configured chat history backend. Postgres when a DSN
// is set, the in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		st, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = st
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})
		slog.Info("chat history store connected", "backend", "postgres")
		return nil
	}
	a.store = history.NewMemStore()
	slog.Info("chat history store created", "backend", "memory")
	return nil
}

// buildSkills registers every skill whose API key is configured. A skill
// whose key fails validation is skipped with a warning rather than failing
// startup.
func buildSkills(cfg config.SkillsConfig) *skills.Manager {
	m := skills.NewManager()
	register := func(name string, s skills.Skill, err error) {
		if err != nil {
			slog.Warn("skill disabled", "skill", name, "err", err)
			return
		}
		m.Register(s)
	}
	if cfg.TavilyAPIKey != "" {
		s, err := skills.NewWebSearch(cfg.TavilyAPIKey)
		register("search_web", s, err)
	}
	if cfg.OpenWeatherAPIKey != "" {
		s, err := skills.NewWeather(cfg.OpenWeatherAPIKey)
		register("get_weather", s, err)
	}
	if cfg.NewsAPIKey != "" {
		s, err := skills.NewNews(cfg.NewsAPIKey)
		register("get_news", s, err)
	}
	if cfg.TranslateAPIKey != "" {
		s, err := skills.NewTranslate(cfg.TranslateAPIKey)
		register("translate_text", s, err)
	}
	slog.Info("skill manager initialised", "skills", m.Names())
	return m
}

func (a *App) initHTTP() error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	a.ln = ln
	a.http = &http.Server{
		Handler:           a.srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Run's shutdown path also closes the listener; this covers an App that
	// is created but never run.
	a.closers = append(a.closers, func() error {
		if err := a.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	return nil
}

// applyConfigChange reacts to a config file reload. Only the hot-reloadable
// settings take effect; listener and provider changes need a restart.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}
	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PipelineChanged || d.HistoryLimitChanged {
		a.srv.ApplyPipelineConfig(new.Pipeline, new.History.MaxMessages)
		slog.Info("pipeline settings reloaded",
			"system_prompt_changed", d.SystemPromptChanged,
			"voice_changed", d.VoiceChanged,
			"debounce_changed", d.DebounceChanged,
			"history_limit_changed", d.HistoryLimitChanged,
		)
	}
}

// Addr returns the bound listen address, useful when the config asked for
// port 0.
func (a *App) Addr() string {
	return a.ln.Addr().String()
}

// Run serves HTTP until ctx is cancelled or the server fails. It returns
// ctx's error after a clean shutdown, matching signal-triggered exits.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.http.ServeTLS(a.ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.http.Serve(a.ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		grace, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		if err := a.http.Shutdown(grace); err != nil {
			slog.Warn("http shutdown incomplete", "err", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown tears down subsystems in order: sessions first, then the config
// watcher, then the closers registered during New. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.srv.Sessions().Shutdown(ctx)
		if a.watcher != nil {
			a.watcher.Stop()
		}

		// Reverse order so later-built components close first.
		for i := len(a.closers) - 1; i >= 0; i-- {
			if ctx.Err() != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				err = ctx.Err()
				return
			}
			if cerr := a.closers[i](); cerr != nil {
				slog.Warn("closer failed", "index", i, "err", cerr)
			}
		}
	})
	return err
}

// SlogLevel maps a config log level to its slog equivalent. Unknown values
// fall back to info.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
