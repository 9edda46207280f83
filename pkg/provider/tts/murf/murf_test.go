package murf

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

func TestBuildStreamURL(t *testing.T) {
	got, err := buildStreamURL(streamEndpoint, "key-123", 44100, "WAV")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("result is not a valid URL: %v", err)
	}
	q := u.Query()
	if q.Get("api-key") != "key-123" {
		t.Errorf("api-key = %q", q.Get("api-key"))
	}
	if q.Get("sample_rate") != "44100" {
		t.Errorf("sample_rate = %q", q.Get("sample_rate"))
	}
	if q.Get("channel_type") != "MONO" {
		t.Errorf("channel_type = %q", q.Get("channel_type"))
	}
	if q.Get("format") != "WAV" {
		t.Errorf("format = %q", q.Get("format"))
	}
}

func TestBuildVoiceConfig(t *testing.T) {
	msg := buildVoiceConfig(tts.VoiceProfile{ID: "en-US-natalie"})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	vc, ok := decoded["voice_config"]
	if !ok {
		t.Fatal("missing voice_config envelope")
	}
	if vc["voiceId"] != "en-US-natalie" {
		t.Errorf("voiceId = %v", vc["voiceId"])
	}
	if vc["style"] != "Conversational" {
		t.Errorf("style default = %v", vc["style"])
	}
}

func TestBuildVoiceConfig_CustomStyle(t *testing.T) {
	msg := buildVoiceConfig(tts.VoiceProfile{ID: "en-US-ken", Style: "Promo"})
	if msg.VoiceConfig.Style != "Promo" {
		t.Errorf("style = %q, want Promo", msg.VoiceConfig.Style)
	}
}

func TestTruncate_LongText(t *testing.T) {
	long := strings.Repeat("a", maxChars+200)
	got := truncate(long)
	if len(got) > maxChars {
		t.Errorf("truncated length = %d, want <= %d", len(got), maxChars)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected ellipsis suffix")
	}
}

func TestTruncate_ShortText(t *testing.T) {
	if got := truncate("hello"); got != "hello" {
		t.Errorf("short text modified: %q", got)
	}
}

func TestParseVoicesResponse(t *testing.T) {
	raw := []byte(`{"voices":[
		{"voiceId":"en-US-natalie","displayName":"Natalie","locale":"en-US","gender":"Female","availableStyles":["Conversational","Promo"]},
		{"voiceId":"en-UK-ruby","displayName":"Ruby","locale":"en-UK","gender":"Female"}
	]}`)
	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}
	if profiles[0].ID != "en-US-natalie" || profiles[0].Name != "Natalie" {
		t.Errorf("first profile = %+v", profiles[0])
	}
	if profiles[0].Style != "Conversational" {
		t.Errorf("first style = %q", profiles[0].Style)
	}
	if profiles[0].Provider != "murf" {
		t.Errorf("provider = %q", profiles[0].Provider)
	}
	if profiles[1].Metadata["locale"] != "en-UK" {
		t.Errorf("second metadata = %v", profiles[1].Metadata)
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	if _, err := parseVoicesResponse([]byte("{nope")); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), "hello", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for empty voice ID")
	}
}

func TestSynthesizeStream_EmptyText(t *testing.T) {
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), "", tts.VoiceProfile{ID: "en-US-natalie"}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

// TestSynthesize_OneShot drives the HTTP render path against a stand-in server.
func TestSynthesize_OneShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "key" {
			t.Errorf("missing api-key header")
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.VoiceID != "en-US-natalie" {
			t.Errorf("voiceId = %q", req.VoiceID)
		}
		if req.ModelVersion != "GEN2" {
			t.Errorf("modelVersion = %q", req.ModelVersion)
		}
		json.NewEncoder(w).Encode(generateResponse{
			AudioFile:            "https://cdn.murf.ai/audio/abc.mp3",
			AudioLengthInSeconds: 3.5,
		})
	}))
	defer srv.Close()

	p, _ := New("key", WithGenerateEndpoint(srv.URL))
	res, err := p.Synthesize(context.Background(), "hello world", tts.VoiceProfile{ID: "en-US-natalie"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.AudioURL != "https://cdn.murf.ai/audio/abc.mp3" {
		t.Errorf("audio URL = %q", res.AudioURL)
	}
	if res.LengthSeconds != 3.5 {
		t.Errorf("length = %v", res.LengthSeconds)
	}
}

// TestSynthesize_NoAudioURL checks that a well-formed response without an
// audio file is treated as a failure.
func TestSynthesize_NoAudioURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	}))
	defer srv.Close()

	p, _ := New("key", WithGenerateEndpoint(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "en-US-natalie"}); err == nil {
		t.Fatal("expected error for missing audio URL")
	}
}
