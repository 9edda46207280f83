// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., Murf) and presents a
// uniform streaming interface. The primary entry point is SynthesizeStream,
// which synthesises a reply and returns a channel of encoded audio chunks as
// they become available, enabling low-latency delivery to the client while
// synthesis is still running.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "en-US-natalie").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Style is the speaking style variant, when the provider supports one
	// (e.g., "Conversational"). Empty uses the provider default.
	Style string

	// Metadata holds provider-specific voice attributes (gender, accent, etc.).
	Metadata map[string]string
}

// AudioChunk is a single piece of synthesised audio emitted by a streaming
// synthesis.
type AudioChunk struct {
	// Data is the encoded audio payload.
	Data []byte

	// Index is the 1-based position of this chunk within the synthesis.
	Index int

	// IsFinal marks the last chunk of the synthesis. Exactly one chunk per
	// stream carries IsFinal true.
	IsFinal bool
}

// SpeechResult is returned by the non-streaming Synthesize method.
type SpeechResult struct {
	// AudioURL points at the rendered audio file hosted by the provider.
	AudioURL string

	// LengthSeconds is the duration of the rendered audio, when reported.
	LengthSeconds float64
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active session).
type Provider interface {
	// SynthesizeStream synthesises text with the given voice and returns a
	// channel that emits AudioChunk values as they are rendered. The channel
	// is closed by the implementation when synthesis completes or ctx is
	// cancelled; the final chunk before a successful close has IsFinal set.
	//
	// The caller must drain the channel to avoid blocking the provider's
	// internal goroutines. Returns a non-nil error only if the stream cannot
	// be started; mid-stream failures are signalled by closing the channel
	// without a final chunk, and callers should check ctx.Err() to
	// distinguish cancellation from provider errors.
	SynthesizeStream(ctx context.Context, text string, voice VoiceProfile) (<-chan AudioChunk, error)

	// Synthesize renders text to a hosted audio file in one shot. It blocks
	// until the provider returns a result or ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (*SpeechResult, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
