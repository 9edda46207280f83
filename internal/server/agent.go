package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// recentMessageCount is how many history entries the agent chat response
// echoes back for the caller's transcript view.
const recentMessageCount = 10

type agentChatResponse struct {
	SessionID         string        `json:"session_id"`
	Transcription     string        `json:"transcription"`
	LLMResponse       string        `json:"llm_response"`
	AudioURL          string        `json:"audio_url"`
	ChatHistoryLength int           `json:"chat_history_length"`
	RecentMessages    []chatMessage `json:"recent_messages"`
	ProcessingTime    float64       `json:"processing_time"`
}

// handleAgentChat runs one full voice-agent turn over plain HTTP: transcribe
// the uploaded audio, answer with chat history and tool dispatch, synthesise
// the reply. The caller posts a multipart form with the audio under "file"
// and an optional "voice_id" field.
func (s *Server) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	if s.prov.STT == nil || s.prov.LLM == nil || s.prov.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "provider stack not fully configured")
		return
	}
	sessionID := r.PathValue("session_id")
	started := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxAudioBody)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file upload")
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio upload too large")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio upload")
		return
	}
	voiceID := r.FormValue("voice_id")
	if voiceID == "" {
		voiceID = s.defaultVoice()
	}

	ctx := r.Context()
	transcript, err := s.prov.STT.Transcribe(ctx, audio, stt.StreamConfig{
		SampleRate: s.sampleRate(),
		Channels:   1,
	})
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt", "batch")
		s.log.Error("agent chat transcription failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	s.metrics.RecordProviderRequest(ctx, "stt", "batch", "ok")
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		writeError(w, http.StatusBadRequest, "no speech detected in audio")
		return
	}

	if err := s.hist.Append(ctx, sessionID, history.Message{Role: "user", Content: transcript}); err != nil {
		s.log.Warn("history append failed", "session_id", sessionID, "role", "user", "error", err)
	}

	resp, err := s.generateReply(r, sessionID, transcript)
	if err != nil {
		s.metrics.RecordProviderError(ctx, "llm", "batch")
		s.log.Error("agent chat completion failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusBadGateway, "completion failed")
		return
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "batch", "ok")

	if err := s.hist.Append(ctx, sessionID, history.Message{Role: "assistant", Content: resp.Content}); err != nil {
		s.log.Warn("history append failed", "session_id", sessionID, "role", "assistant", "error", err)
	}

	speech, err := s.prov.TTS.Synthesize(ctx, resp.Content, tts.VoiceProfile{ID: voiceID})
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts", "batch")
		s.log.Error("agent chat synthesis failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusBadGateway, "synthesis failed")
		return
	}
	s.metrics.RecordProviderRequest(ctx, "tts", "batch", "ok")

	all, err := s.hist.Recent(ctx, sessionID, 0)
	if err != nil {
		s.log.Warn("reading chat history failed", "session_id", sessionID, "error", err)
	}
	recent := all
	if len(recent) > recentMessageCount {
		recent = recent[len(recent)-recentMessageCount:]
	}
	msgs := make([]chatMessage, len(recent))
	for i, m := range recent {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}

	writeJSON(w, http.StatusOK, agentChatResponse{
		SessionID:         sessionID,
		Transcription:     transcript,
		LLMResponse:       resp.Content,
		AudioURL:          speech.AudioURL,
		ChatHistoryLength: len(all),
		RecentMessages:    msgs,
		ProcessingTime:    time.Since(started).Seconds(),
	})
}

// generateReply runs the completion for one agent chat turn, replaying the
// stored conversation and dispatching tool calls through the skill manager
// when one is configured.
func (s *Server) generateReply(r *http.Request, sessionID, transcript string) (*llm.CompletionResponse, error) {
	ctx := r.Context()
	_, limit := s.pipelineConfig()
	if limit <= 0 {
		limit = pipeline.DefaultHistoryLimit
	}
	stored, err := s.hist.Recent(ctx, sessionID, limit)
	if err != nil {
		s.log.Warn("reading chat history failed", "session_id", sessionID, "error", err)
	}
	messages := make([]llm.Message, 0, len(stored)+1)
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 || messages[len(messages)-1].Content != transcript {
		messages = append(messages, llm.Message{Role: "user", Content: transcript})
	}

	req := llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: s.systemPrompt(),
	}
	if s.skills != nil {
		return s.skills.Complete(ctx, s.prov.LLM, req)
	}
	return s.prov.LLM.Complete(ctx, req)
}
