package anyllm

import (
	"testing"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("watson", "some-model"); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestBuildParams_SystemPromptFirst checks that the system prompt is
// prepended as the first message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Answer in one sentence.",
		Messages: []llm.Message{
			{Role: "user", Content: "Why is the sky blue?"},
		},
	})

	if params.Model != "gemini-2.0-flash" {
		t.Errorf("model = %q, want gemini-2.0-flash", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[1].Content != "Why is the sky blue?" {
		t.Errorf("user content not preserved: %q", params.Messages[1].Content)
	}
}

// TestBuildParams_Limits checks optional temperature and max token plumbing.
func TestBuildParams_Limits(t *testing.T) {
	p := &Provider{model: "gemini-2.0-flash"}

	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if params.Temperature != nil {
		t.Error("zero temperature should not be sent")
	}
	if params.MaxTokens != nil {
		t.Error("zero max tokens should not be sent")
	}

	params = p.buildParams(llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.3,
		MaxTokens:   512,
	})
	if params.Temperature == nil || *params.Temperature != 0.3 {
		t.Errorf("temperature not set: %+v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 512 {
		t.Errorf("max tokens not set: %+v", params.MaxTokens)
	}
}
