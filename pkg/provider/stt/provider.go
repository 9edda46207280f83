// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., AssemblyAI)
// and exposes a uniform streaming interface. The central abstraction is
// SessionHandle: once opened, a session accepts raw PCM audio frames and emits
// a single ordered stream of TurnEvent values — low-latency partials while the
// speaker is talking and an authoritative end-of-turn transcript once the
// provider commits to a result.
//
// Implementations must be safe for concurrent use. Audio input and turn
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix stereo internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string
}

// TurnEvent is a single recognition update emitted by a streaming session.
// Partial and end-of-turn transcripts share this type.
type TurnEvent struct {
	// Transcript is the recognised speech for the current turn so far. For an
	// end-of-turn event it is the authoritative text of the whole turn. May be
	// empty when the provider detected a turn boundary without speech.
	Transcript string

	// EndOfTurn reports whether the provider has committed this turn. Events
	// with EndOfTurn false are interim guesses suitable for UI display only.
	EndOfTurn bool

	// Seq is the provider-assigned turn order, monotonically increasing within
	// a session. Zero when the provider does not report one.
	Seq int
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk should match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close returns
	// an error.
	SendAudio(chunk []byte) error

	// Turns returns a read-only channel that emits TurnEvent values in the
	// order the provider produced them. The channel is closed when the
	// session ends.
	Turns() <-chan TurnEvent

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Turns channel will
	// be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously (one per connected client).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format and recognition configuration. The returned SessionHandle
	// is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close when
	// done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)

	// Transcribe performs a one-shot batch transcription of a complete audio
	// recording. It blocks until the provider returns a result or ctx is
	// cancelled.
	Transcribe(ctx context.Context, audio []byte, cfg StreamConfig) (string, error)
}
