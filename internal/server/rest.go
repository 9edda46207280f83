package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// maxAudioBody caps one-shot transcription uploads.
const maxAudioBody = 25 << 20

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

type generateRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateResponse struct {
	Response string    `json:"response"`
	Usage    usageJSON `json:"usage"`
}

type usageJSON struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	Style   string `json:"style,omitempty"`
}

type synthesizeResponse struct {
	AudioURL      string  `json:"audio_url"`
	LengthSeconds float64 `json:"length_seconds"`
}

type voiceJSON struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Style    string            `json:"style,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type historyResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []history.Message `json:"messages"`
}

// handleTranscribe runs a one-shot batch transcription over the raw audio
// request body.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.prov.STT == nil {
		writeError(w, http.StatusServiceUnavailable, "stt provider not configured")
		return
	}
	audio, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "audio body too large")
		return
	}
	if len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "empty audio body")
		return
	}

	transcript, err := s.prov.STT.Transcribe(r.Context(), audio, stt.StreamConfig{
		SampleRate: s.sampleRate(),
		Channels:   1,
	})
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "stt", "batch")
		s.log.Error("batch transcription failed", "error", err)
		writeError(w, http.StatusBadGateway, "transcription failed")
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), "stt", "batch", "ok")
	writeJSON(w, http.StatusOK, transcribeResponse{Transcript: transcript})
}

// handleGenerate runs a one-shot LLM completion over a caller-supplied
// conversation. The configured system prompt is applied server-side.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if s.prov.LLM == nil {
		writeError(w, http.StatusServiceUnavailable, "llm provider not configured")
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	resp, err := s.prov.LLM.Complete(r.Context(), llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: s.systemPrompt(),
	})
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "llm", "batch")
		s.log.Error("completion failed", "error", err)
		writeError(w, http.StatusBadGateway, "completion failed")
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), "llm", "batch", "ok")
	writeJSON(w, http.StatusOK, generateResponse{
		Response: resp.Content,
		Usage: usageJSON{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	})
}

// handleSynthesize renders text to a hosted audio file in one shot.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if s.prov.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "tts provider not configured")
		return
	}
	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = s.defaultVoice()
	}

	res, err := s.prov.TTS.Synthesize(r.Context(), req.Text, tts.VoiceProfile{
		ID:    voiceID,
		Style: req.Style,
	})
	if err != nil {
		s.metrics.RecordProviderError(r.Context(), "tts", "batch")
		s.log.Error("synthesis failed", "error", err)
		writeError(w, http.StatusBadGateway, "synthesis failed")
		return
	}
	s.metrics.RecordProviderRequest(r.Context(), "tts", "batch", "ok")
	writeJSON(w, http.StatusOK, synthesizeResponse{
		AudioURL:      res.AudioURL,
		LengthSeconds: res.LengthSeconds,
	})
}

// handleVoices lists the synthesis voices of the configured TTS provider.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.prov.TTS == nil {
		writeError(w, http.StatusServiceUnavailable, "tts provider not configured")
		return
	}
	voices, err := s.prov.TTS.ListVoices(r.Context())
	if err != nil {
		s.log.Error("listing voices failed", "error", err)
		writeError(w, http.StatusBadGateway, "listing voices failed")
		return
	}
	out := make([]voiceJSON, len(voices))
	for i, v := range voices {
		out[i] = voiceJSON{
			ID:       v.ID,
			Name:     v.Name,
			Provider: v.Provider,
			Style:    v.Style,
			Metadata: v.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, map[string][]voiceJSON{"voices": out})
}

// handleHistoryGet returns the chat history for a session, oldest first.
func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	msgs, err := s.hist.Recent(r.Context(), sessionID, 0)
	if err != nil {
		s.log.Error("reading chat history failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "reading chat history failed")
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	writeJSON(w, http.StatusOK, historyResponse{SessionID: sessionID, Messages: msgs})
}

// handleHistoryClear removes the stored chat history for a session.
func (s *Server) handleHistoryClear(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := s.hist.Clear(r.Context(), sessionID); err != nil {
		s.log.Error("clearing chat history failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "clearing chat history failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
