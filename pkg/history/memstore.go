package history

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store implementation. It is the default history
// backend when no database is configured; history is lost on restart.
//
// All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string][]Message

	// maxPerSession bounds the history length per session; the oldest
	// messages are dropped once the bound is exceeded. Zero means unbounded.
	maxPerSession int
}

// MemOption is a functional option for MemStore.
type MemOption func(*MemStore)

// WithMaxPerSession bounds how many messages are retained per session.
func WithMaxPerSession(n int) MemOption {
	return func(s *MemStore) {
		s.maxPerSession = n
	}
}

// NewMemStore creates an empty in-memory history store.
func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{sessions: make(map[string][]Message)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, sessionID string, msg Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.sessions[sessionID], msg)
	if s.maxPerSession > 0 && len(msgs) > s.maxPerSession {
		msgs = msgs[len(msgs)-s.maxPerSession:]
	}
	s.sessions[sessionID] = msgs
	return nil
}

// Recent implements Store.
func (s *MemStore) Recent(_ context.Context, sessionID string, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sessions[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Clear implements Store.
func (s *MemStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Ensure MemStore implements Store at compile time.
var _ Store = (*MemStore)(nil)
