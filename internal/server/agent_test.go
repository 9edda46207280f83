package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/MrWong99/parley/internal/server"
	"github.com/MrWong99/parley/internal/skills"
	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/provider/llm"
)

// postAgentChat uploads audio as a multipart form to the agent chat endpoint.
func postAgentChat(t *testing.T, url string, audio []byte, voiceID string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "turn.pcm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(audio); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if voiceID != "" {
		if err := w.WriteField("voice_id", voiceID); err != nil {
			t.Fatalf("write voice field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST agent chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAgentChat_FullTurn(t *testing.T) {
	e := newTestEnv(t, nil)

	resp := postAgentChat(t, e.srv.URL+"/v1/agent/chat/sess-rest", []byte("pcm"), "en-UK-hazel")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		SessionID         string `json:"session_id"`
		Transcription     string `json:"transcription"`
		LLMResponse       string `json:"llm_response"`
		AudioURL          string `json:"audio_url"`
		ChatHistoryLength int    `json:"chat_history_length"`
		RecentMessages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"recent_messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.SessionID != "sess-rest" {
		t.Errorf("session_id = %q", body.SessionID)
	}
	if body.Transcription != "hello world" {
		t.Errorf("transcription = %q", body.Transcription)
	}
	if body.LLMResponse != "Hello!" {
		t.Errorf("llm_response = %q", body.LLMResponse)
	}
	if body.AudioURL != "https://cdn.example/audio.mp3" {
		t.Errorf("audio_url = %q", body.AudioURL)
	}
	if body.ChatHistoryLength != 2 {
		t.Errorf("chat_history_length = %d, want 2", body.ChatHistoryLength)
	}
	if len(body.RecentMessages) != 2 ||
		body.RecentMessages[0].Role != "user" || body.RecentMessages[1].Role != "assistant" {
		t.Errorf("recent_messages = %#v", body.RecentMessages)
	}

	// The turn is persisted and synthesis used the requested voice.
	msgs, err := e.hist.Recent(context.Background(), "sess-rest", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "Hello!" {
		t.Errorf("stored history = %#v", msgs)
	}
	ttsCalls := e.tts.Calls()
	if len(ttsCalls) != 1 || ttsCalls[0].Voice.ID != "en-UK-hazel" {
		t.Errorf("tts calls = %#v", ttsCalls)
	}
}

func TestAgentChat_MissingUpload(t *testing.T) {
	e := newTestEnv(t, nil)

	resp, err := http.Post(e.srv.URL+"/v1/agent/chat/sess-rest", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("POST agent chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAgentChat_NoSpeechDetected(t *testing.T) {
	e := newTestEnv(t, func(e *env) {
		e.stt.TranscribeText = "   "
	})

	resp := postAgentChat(t, e.srv.URL+"/v1/agent/chat/sess-rest", []byte("pcm"), "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	msgs, _ := e.hist.Recent(context.Background(), "sess-rest", 0)
	if len(msgs) != 0 {
		t.Errorf("history = %#v, want empty", msgs)
	}
}

func TestAgentChat_Unconfigured(t *testing.T) {
	e := newTestEnv(t, func(e *env) { e.tts = nil })

	resp := postAgentChat(t, e.srv.URL+"/v1/agent/chat/sess-rest", []byte("pcm"), "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

// fixedSkill is a minimal skill for asserting tool wiring.
type fixedSkill struct{}

func (fixedSkill) Definition() llm.Tool {
	return llm.Tool{Name: "get_weather", Description: "weather lookup"}
}

func (fixedSkill) Execute(context.Context, json.RawMessage) (string, error) {
	return "sunny", nil
}

func TestAgentChat_OffersSkillsToModel(t *testing.T) {
	mgr := skills.NewManager()
	mgr.Register(fixedSkill{})
	e := newTestEnv(t, func(e *env) {
		e.opts = append(e.opts, server.WithSkills(mgr))
	})

	resp := postAgentChat(t, e.srv.URL+"/v1/agent/chat/sess-rest", []byte("pcm"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(e.llm.CompleteCalls) != 1 {
		t.Fatalf("llm complete calls = %d, want 1", len(e.llm.CompleteCalls))
	}
	tools := e.llm.CompleteCalls[0].Req.Tools
	if len(tools) != 1 || tools[0].Name != "get_weather" {
		t.Errorf("offered tools = %#v", tools)
	}
}

func TestAgentChat_ReplaysHistory(t *testing.T) {
	e := newTestEnv(t, nil)
	ctx := context.Background()
	e.hist.Append(ctx, "sess-rest", history.Message{Role: "user", Content: "earlier question"})
	e.hist.Append(ctx, "sess-rest", history.Message{Role: "assistant", Content: "earlier answer"})

	resp := postAgentChat(t, e.srv.URL+"/v1/agent/chat/sess-rest", []byte("pcm"), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(e.llm.CompleteCalls) != 1 {
		t.Fatalf("llm complete calls = %d, want 1", len(e.llm.CompleteCalls))
	}
	req := e.llm.CompleteCalls[0].Req
	if req.SystemPrompt != "You are a helpful assistant." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %#v, want the prior turn plus the new transcript", req.Messages)
	}
	if req.Messages[0].Content != "earlier question" || req.Messages[2].Content != "hello world" {
		t.Errorf("conversation order = %#v", req.Messages)
	}
}
