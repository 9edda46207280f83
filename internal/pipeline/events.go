package pipeline

import "context"

// EventSink receives server-to-client events in emission order. The WebSocket
// transport implements it with a mutex-guarded connection writer; tests use a
// recording sink.
//
// Send must be safe for concurrent use: the run loop and an in-flight
// invocation goroutine may emit through the same sink.
type EventSink interface {
	Send(ctx context.Context, event any) error
}

// Event type discriminators as they appear on the wire.
const (
	TypeReady             = "ready"
	TypeRecordingStarted  = "recording_started"
	TypeSTTStarted        = "stt_started"
	TypePartialTranscript = "partial_transcript"
	TypeFinalTranscript   = "final_transcript"
	TypeNoSpeechDetected  = "no_speech_detected"
	TypePipelineStatus    = "pipeline_status"
	TypeLLMChunk          = "llm_chunk"
	TypeLLMComplete       = "llm_complete"
	TypeAudioChunk        = "audio_chunk"
	TypeTTSComplete       = "tts_complete"
	TypePipelineComplete  = "pipeline_complete"
	TypePipelineError     = "pipeline_error"
	TypeError             = "error"
	TypeChatCleared       = "chat_cleared"
)

// Pipeline step identifiers used in status and error events.
const (
	StepRecording = "recording"
	StepSTT       = "stt"
	StepAI        = "ai"
	StepTTS       = "tts"
)

// ReadyEvent is emitted once per connection, immediately after accept.
type ReadyEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// RecordingStartedEvent acknowledges a start_recording control message.
type RecordingStartedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// STTStartedEvent signals that the streaming recognizer is connected.
type STTStartedEvent struct {
	Type string `json:"type"`
}

// PartialTranscriptEvent carries a low-latency interim transcript.
type PartialTranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// FinalTranscriptEvent carries an end-of-turn transcript from the recognizer.
type FinalTranscriptEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NoSpeechDetectedEvent is emitted when a turn ends without recognisable
// speech. No generation follows.
type NoSpeechDetectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PipelineStatusEvent reports a stage transition for UI progress display.
type PipelineStatusEvent struct {
	Type   string `json:"type"`
	Step   string `json:"step"`
	Status string `json:"status"`
}

// LLMChunkEvent carries one incremental text delta of the reply.
type LLMChunkEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// LLMCompleteEvent carries the full assistant reply once generation finishes.
type LLMCompleteEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AudioChunkEvent carries one piece of synthesised audio. Data is
// base64-encoded by encoding/json on the wire. ChunkIndex starts at 1 and
// increases strictly; exactly one chunk per reply has IsFinal true.
type AudioChunkEvent struct {
	Type       string `json:"type"`
	Data       []byte `json:"data"`
	ChunkIndex int    `json:"chunk_index"`
	IsFinal    bool   `json:"is_final"`
}

// TTSCompleteEvent signals that synthesis finished.
type TTSCompleteEvent struct {
	Type       string `json:"type"`
	ChunksSent int    `json:"chunks_sent"`
}

// PipelineCompleteEvent summarises a fully processed turn.
type PipelineCompleteEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Response   string `json:"response"`
	ChunksSent int    `json:"chunks_sent"`
}

// PipelineErrorEvent reports a stage failure. The session returns to idle and
// remains usable.
type PipelineErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// ErrorEvent reports a protocol or configuration problem outside a pipeline
// stage.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

// ChatClearedEvent acknowledges a clear_chat control message.
type ChatClearedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Ready constructs a ReadyEvent.
func Ready(message string) ReadyEvent {
	return ReadyEvent{Type: TypeReady, Message: message}
}

// RecordingStarted constructs a RecordingStartedEvent.
func RecordingStarted(sessionID string) RecordingStartedEvent {
	return RecordingStartedEvent{Type: TypeRecordingStarted, SessionID: sessionID}
}

// STTStarted constructs an STTStartedEvent.
func STTStarted() STTStartedEvent {
	return STTStartedEvent{Type: TypeSTTStarted}
}

// PartialTranscript constructs a PartialTranscriptEvent.
func PartialTranscript(text string) PartialTranscriptEvent {
	return PartialTranscriptEvent{Type: TypePartialTranscript, Text: text}
}

// FinalTranscript constructs a FinalTranscriptEvent.
func FinalTranscript(text string) FinalTranscriptEvent {
	return FinalTranscriptEvent{Type: TypeFinalTranscript, Text: text}
}

// NoSpeechDetected constructs a NoSpeechDetectedEvent.
func NoSpeechDetected() NoSpeechDetectedEvent {
	return NoSpeechDetectedEvent{Type: TypeNoSpeechDetected, Message: "No speech detected, please try again"}
}

// Status constructs a PipelineStatusEvent.
func Status(step, status string) PipelineStatusEvent {
	return PipelineStatusEvent{Type: TypePipelineStatus, Step: step, Status: status}
}

// LLMChunk constructs an LLMChunkEvent.
func LLMChunk(text string) LLMChunkEvent {
	return LLMChunkEvent{Type: TypeLLMChunk, Text: text}
}

// LLMComplete constructs an LLMCompleteEvent.
func LLMComplete(text string) LLMCompleteEvent {
	return LLMCompleteEvent{Type: TypeLLMComplete, Text: text}
}

// AudioChunk constructs an AudioChunkEvent.
func AudioChunk(data []byte, index int, isFinal bool) AudioChunkEvent {
	return AudioChunkEvent{Type: TypeAudioChunk, Data: data, ChunkIndex: index, IsFinal: isFinal}
}

// TTSComplete constructs a TTSCompleteEvent.
func TTSComplete(chunksSent int) TTSCompleteEvent {
	return TTSCompleteEvent{Type: TypeTTSComplete, ChunksSent: chunksSent}
}

// PipelineComplete constructs a PipelineCompleteEvent.
func PipelineComplete(transcript, response string, chunksSent int) PipelineCompleteEvent {
	return PipelineCompleteEvent{Type: TypePipelineComplete, Transcript: transcript, Response: response, ChunksSent: chunksSent}
}

// PipelineError constructs a PipelineErrorEvent.
func PipelineError(message, step string) PipelineErrorEvent {
	return PipelineErrorEvent{Type: TypePipelineError, Message: message, Step: step}
}

// Error constructs an ErrorEvent.
func Error(message, step string) ErrorEvent {
	return ErrorEvent{Type: TypeError, Message: message, Step: step}
}

// ChatCleared constructs a ChatClearedEvent.
func ChatCleared(sessionID string) ChatClearedEvent {
	return ChatClearedEvent{Type: TypeChatCleared, SessionID: sessionID}
}
