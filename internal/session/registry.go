package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
)

// Registry owns all live sessions. It is parameterised over the runner type
// so that callers keep a typed handle to their pipelines while tests can use
// lightweight fakes.
//
// All methods are safe for concurrent use.
type Registry[R Runner] struct {
	log     *slog.Logger
	metrics *observe.Metrics
	drain   time.Duration

	mu       sync.Mutex
	sessions map[string]*Session[R]
}

// RegistryOption customises a [Registry].
type RegistryOption func(*registryOptions)

type registryOptions struct {
	log     *slog.Logger
	metrics *observe.Metrics
	drain   time.Duration
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) RegistryOption {
	return func(o *registryOptions) { o.log = l }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) RegistryOption {
	return func(o *registryOptions) { o.metrics = m }
}

// WithDrainTimeout bounds how long session destruction waits for the run
// loop to exit.
func WithDrainTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.drain = d }
}

// NewRegistry creates an empty Registry.
func NewRegistry[R Runner](opts ...RegistryOption) *Registry[R] {
	o := registryOptions{
		log:   slog.Default(),
		drain: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return &Registry[R]{
		log:      o.log,
		metrics:  o.metrics,
		drain:    o.drain,
		sessions: make(map[string]*Session[R]),
	}
}

// Create registers the runner under the given ID and starts its run loop.
// When a session with the same ID already exists it is destroyed first, so
// Create always hands back a fresh instance. The runner goroutine lives
// until ctx is cancelled or the session is destroyed.
func (r *Registry[R]) Create(ctx context.Context, sessionID string, runner R) *Session[R] {
	runCtx, cancel := context.WithCancel(ctx)
	s := &Session[R]{
		id:     sessionID,
		runner: runner,
		cancel: cancel,
		done:   make(chan struct{}),
		drain:  r.drain,
		log:    r.log,
	}
	go func() {
		defer close(s.done)
		if err := s.runner.Run(runCtx); err != nil {
			r.log.Error("session run loop failed", "session_id", sessionID, "error", err)
		}
	}()

	// Swap atomically so two racing Creates for the same ID cannot both see
	// no predecessor and leave an unregistered runner behind: whichever
	// registers second finds the other as prev and tears it down.
	r.mu.Lock()
	prev := r.sessions[sessionID]
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if prev != nil {
		r.log.Info("replacing existing session", "session_id", sessionID)
		prev.Destroy()
		r.metrics.ActiveSessions.Add(ctx, -1)
	}

	r.metrics.ActiveSessions.Add(ctx, 1)
	r.log.Info("session created", "session_id", sessionID)
	return s
}

// Get returns the live session for the ID, if any.
func (r *Registry[R]) Get(sessionID string) (*Session[R], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Destroy tears down the session for the ID. Unknown IDs and repeated calls
// are no-ops.
func (r *Registry[R]) Destroy(ctx context.Context, sessionID string) {
	r.mu.Lock()
	s := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.Destroy()
	r.metrics.ActiveSessions.Add(ctx, -1)
	r.log.Info("session destroyed", "session_id", sessionID)
}

// DestroySession tears down s, removing it from the registry only while it
// is still the registered session for its ID. When s was already replaced by
// a newer session under the same ID, that newer session is left untouched.
func (r *Registry[R]) DestroySession(ctx context.Context, s *Session[R]) {
	if s == nil {
		return
	}
	r.mu.Lock()
	registered := r.sessions[s.ID()] == s
	if registered {
		delete(r.sessions, s.ID())
	}
	r.mu.Unlock()

	s.Destroy()
	if registered {
		r.metrics.ActiveSessions.Add(ctx, -1)
		r.log.Info("session destroyed", "session_id", s.ID())
	}
}

// Len returns the number of live sessions.
func (r *Registry[R]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown destroys all live sessions. Used during server shutdown.
func (r *Registry[R]) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session[R], 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session[R])
	r.mu.Unlock()

	for _, s := range all {
		s.Destroy()
		r.metrics.ActiveSessions.Add(ctx, -1)
	}
	if len(all) > 0 {
		r.log.Info("all sessions destroyed", "count", len(all))
	}
}
