package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/tts"
	ttsmock "github.com/MrWong99/parley/pkg/provider/tts/mock"
)

func TestTTSFallback_StreamFailover(t *testing.T) {
	primary := &ttsmock.Provider{StreamErr: errors.New("quota exceeded")}
	backup := &ttsmock.Provider{
		StreamChunks: []tts.AudioChunk{
			{Data: []byte{0x01}, Index: 1},
			{Data: []byte{0x02}, Index: 2, IsFinal: true},
		},
	}

	f := NewTTSFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	ch, err := f.SynthesizeStream(context.Background(), "hello", tts.VoiceProfile{ID: "en-US-ken"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var chunks []tts.AudioChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 2 || !chunks[1].IsFinal {
		t.Errorf("chunks = %+v, want 2 with a final marker", chunks)
	}
	if len(backup.StreamCalls) != 1 {
		t.Errorf("backup stream called %d times, want 1", len(backup.StreamCalls))
	}
}

func TestTTSFallback_SynthesizeFailover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("down")}
	backup := &ttsmock.Provider{
		SynthesizeResult: &tts.SpeechResult{AudioURL: "https://cdn.example/a.mp3"},
	}

	f := NewTTSFallback(primary, "primary", testFallbackConfig())
	f.AddFallback("backup", backup)

	res, err := f.Synthesize(context.Background(), "hello", tts.VoiceProfile{ID: "en-US-ken"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.AudioURL != "https://cdn.example/a.mp3" {
		t.Errorf("audio url = %q", res.AudioURL)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{
		Voices: []tts.VoiceProfile{{ID: "en-US-ken"}},
	}

	f := NewTTSFallback(primary, "primary", testFallbackConfig())

	voices, err := f.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "en-US-ken" {
		t.Errorf("voices = %+v", voices)
	}
}
