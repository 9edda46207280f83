package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
	llmmock "github.com/MrWong99/parley/pkg/provider/llm/mock"
)

func testFallbackConfig() FallbackConfig {
	return FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
		},
	}
}

func TestLLMFallback_PrimaryHealthy(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from primary"},
	}
	backup := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from backup"},
	}

	f := NewLLMFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q, want the primary's response", resp.Content)
	}
	if len(backup.CompleteCalls) != 0 {
		t.Error("backup was called although the primary succeeded")
	}
}

func TestLLMFallback_FailoverOnError(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("rate limited")}
	backup := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from backup"},
	}

	f := NewLLMFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	resp, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("content = %q, want the backup's response", resp.Content)
	}
}

func TestLLMFallback_StreamFailover(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errors.New("connection refused")}
	backup := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "ok"}, {FinishReason: "stop"}},
	}

	f := NewLLMFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	ch, err := f.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "ok" {
		t.Errorf("streamed text = %q, want %q", text, "ok")
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	backup := &llmmock.Provider{CompleteErr: errors.New("also down")}

	f := NewLLMFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	_, err := f.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_OpenBreakerSkipsPrimary(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("down")}
	backup := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from backup"},
	}

	f := NewLLMFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: "user", Content: "hi"}}}

	// First call trips the primary's breaker (MaxFailures: 1).
	if _, err := f.Complete(context.Background(), req); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	if _, err := f.Complete(context.Background(), req); err != nil {
		t.Fatalf("second Complete: %v", err)
	}

	if got := len(primary.CompleteCalls); got != 1 {
		t.Errorf("primary called %d times, want 1 (breaker should skip it)", got)
	}
}
