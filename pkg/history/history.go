// Package history defines the chat history abstraction used by the voice
// agent pipeline. Each session accumulates an ordered log of user and
// assistant messages; the most recent window is replayed to the LLM as
// conversation context on every turn.
package history

import (
	"context"
	"time"
)

// Message is a single chat history entry.
type Message struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the text of the message.
	Content string `json:"content"`

	// CreatedAt is when the message was appended.
	CreatedAt time.Time `json:"created_at"`
}

// Store is the abstraction over chat history persistence.
//
// Implementations must be safe for concurrent use; the pipeline appends from
// per-session goroutines while REST handlers read concurrently.
type Store interface {
	// Append adds msg to the end of the history for sessionID. A zero
	// CreatedAt is filled in by the implementation.
	Append(ctx context.Context, sessionID string, msg Message) error

	// Recent returns up to limit of the newest messages for sessionID in
	// chronological order (oldest first). limit <= 0 returns the full history.
	Recent(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// Clear removes all history for sessionID. Clearing an unknown session is
	// not an error.
	Clear(ctx context.Context, sessionID string) error
}
