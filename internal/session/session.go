// Package session tracks live voice sessions and their lifecycles.
//
// A [Registry] maps session IDs to running [Session] instances. Creating a
// session that already exists destroys the previous instance first, so a
// client reconnecting with the same ID never ends up with two competing
// pipelines. Destruction is exactly-once regardless of how many callers race
// on it.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Runner drives a session's event loop. [Session] owns the goroutine the
// runner executes on and cancels it on destroy.
type Runner interface {
	Run(ctx context.Context) error
}

// defaultDrainTimeout bounds how long Destroy waits for the run loop to exit.
const defaultDrainTimeout = 5 * time.Second

// Session is one live voice session: a runner goroutine plus the context
// that bounds it.
type Session[R Runner] struct {
	id     string
	runner R
	cancel context.CancelFunc
	done   chan struct{}

	destroyOnce sync.Once
	drain       time.Duration
	log         *slog.Logger
}

// ID returns the session identifier.
func (s *Session[R]) ID() string {
	return s.id
}

// Runner returns the runner driving this session, for posting work into it.
func (s *Session[R]) Runner() R {
	return s.runner
}

// Done is closed once the run loop has exited.
func (s *Session[R]) Done() <-chan struct{} {
	return s.done
}

// Destroy cancels the run loop and waits for it to exit, bounded by the
// drain timeout. Safe to call multiple times; only the first call does the
// work.
func (s *Session[R]) Destroy() {
	s.destroyOnce.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(s.drain):
			s.log.Warn("session run loop did not exit before drain timeout",
				"session_id", s.id, "timeout", s.drain)
		}
	})
}
