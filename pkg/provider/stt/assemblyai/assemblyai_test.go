package assemblyai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

func TestBuildStreamURL(t *testing.T) {
	got, err := buildStreamURL(streamEndpoint, 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("result is not a valid URL: %v", err)
	}
	q := u.Query()
	if q.Get("sample_rate") != "16000" {
		t.Errorf("sample_rate = %q, want 16000", q.Get("sample_rate"))
	}
	if q.Get("encoding") != "pcm_s16le" {
		t.Errorf("encoding = %q, want pcm_s16le", q.Get("encoding"))
	}
	if q.Get("format_turns") != "true" {
		t.Errorf("format_turns = %q, want true", q.Get("format_turns"))
	}
}

func TestParseStreamMessage_Turn(t *testing.T) {
	raw := []byte(`{"type":"Turn","transcript":"hello there","end_of_turn":true,"turn_order":3}`)
	ev, ok := parseStreamMessage(raw)
	if !ok {
		t.Fatal("expected message to parse")
	}
	if ev.Transcript != "hello there" {
		t.Errorf("transcript = %q", ev.Transcript)
	}
	if !ev.EndOfTurn {
		t.Error("expected end of turn")
	}
	if ev.Seq != 3 {
		t.Errorf("seq = %d, want 3", ev.Seq)
	}
}

func TestParseStreamMessage_Partial(t *testing.T) {
	raw := []byte(`{"type":"Turn","transcript":"hel","end_of_turn":false,"turn_order":3}`)
	ev, ok := parseStreamMessage(raw)
	if !ok {
		t.Fatal("expected message to parse")
	}
	if ev.EndOfTurn {
		t.Error("expected partial, got end of turn")
	}
}

func TestParseStreamMessage_Begin(t *testing.T) {
	raw := []byte(`{"type":"Begin","id":"abc","expires_at":12345}`)
	if _, ok := parseStreamMessage(raw); ok {
		t.Fatal("Begin messages should be ignored")
	}
}

func TestParseStreamMessage_Termination(t *testing.T) {
	raw := []byte(`{"type":"Termination","audio_duration_seconds":4.2}`)
	if _, ok := parseStreamMessage(raw); ok {
		t.Fatal("Termination messages should be ignored")
	}
}

func TestParseStreamMessage_InvalidJSON(t *testing.T) {
	if _, ok := parseStreamMessage([]byte("{not json")); ok {
		t.Fatal("invalid JSON should be ignored")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.sampleRate != 16000 {
		t.Errorf("sampleRate = %d, want 16000", p.sampleRate)
	}
	if p.streamEndpoint != streamEndpoint {
		t.Errorf("streamEndpoint = %q", p.streamEndpoint)
	}
}

// TestTranscribe_UploadAndPoll drives the batch flow against a stand-in HTTP
// server: upload, job creation, one queued poll, then completion.
func TestTranscribe_UploadAndPoll(t *testing.T) {
	polls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
			if r.Header.Get("Authorization") != "key" {
				t.Errorf("missing Authorization header on upload")
			}
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio/1"})

		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			if body["audio_url"] != "https://cdn.example/audio/1" {
				t.Errorf("audio_url = %v", body["audio_url"])
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})

		case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/job-1":
			polls++
			status := "processing"
			text := ""
			if polls >= 2 {
				status = "completed"
				text = "the quick brown fox"
			}
			json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": status, "text": text})

		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := New("key", WithAPIEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := p.Transcribe(context.Background(), []byte("pcm"), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "the quick brown fox" {
		t.Errorf("transcript = %q", got)
	}
}

// TestTranscribe_JobError checks that a failed job surfaces as an error.
func TestTranscribe_JobError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/upload":
			json.NewEncoder(w).Encode(map[string]string{"upload_url": "https://cdn.example/audio/2"})
		case r.URL.Path == "/v2/transcript":
			json.NewEncoder(w).Encode(map[string]string{"id": "job-2", "status": "queued"})
		default:
			json.NewEncoder(w).Encode(map[string]string{"id": "job-2", "status": "error", "error": "unsupported codec"})
		}
	}))
	defer srv.Close()

	p, _ := New("key", WithAPIEndpoint(srv.URL))
	if _, err := p.Transcribe(context.Background(), []byte("pcm"), stt.StreamConfig{}); err == nil {
		t.Fatal("expected error for failed job")
	}
}

// TestSession_CloseUnresponsiveUpstream checks that Close returns even when
// the service never acknowledges the Terminate message.
func TestSession_CloseUnresponsiveUpstream(t *testing.T) {
	old := closeGrace
	closeGrace = 50 * time.Millisecond
	t.Cleanup(func() { closeGrace = old })

	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		// Complete the handshake, then go silent.
		<-hold
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(func() {
		close(hold)
		srv.Close()
	})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	p, err := New("key", WithStreamEndpoint(wsURL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sess, err := p.StartStream(context.Background(), stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- sess.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return against a silent upstream")
	}
}
