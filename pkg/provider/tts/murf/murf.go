// Package murf provides a Murf-backed TTS provider using the Murf gen2
// streaming WebSocket API. It implements the tts.Provider interface.
package murf

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

const (
	streamEndpoint   = "wss://api.murf.ai/v1/speech/stream-input"
	generateEndpoint = "https://api.murf.ai/v1/speech/generate"
	voicesEndpoint   = "https://api.murf.ai/v1/studio/voice-ai/voice-list"

	defaultSampleRate = 44100
	defaultFormat     = "WAV"
	defaultStyle      = "Conversational"

	// maxChars is the Murf per-request character limit. Longer text is
	// truncated before submission.
	maxChars = 3000
)

// Option is a functional option for configuring the Murf Provider.
type Option func(*Provider)

// WithSampleRate sets the streaming audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithFormat sets the streaming audio container format (e.g., "WAV", "MP3").
func WithFormat(format string) Option {
	return func(p *Provider) {
		p.format = format
	}
}

// WithStreamEndpoint overrides the streaming WebSocket endpoint. Intended for
// tests against a local stand-in server.
func WithStreamEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.streamEndpoint = endpoint
	}
}

// WithGenerateEndpoint overrides the one-shot HTTP endpoint. Intended for
// tests against a local stand-in server.
func WithGenerateEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.generateEndpoint = endpoint
	}
}

// WithVoicesEndpoint overrides the voice catalogue endpoint.
func WithVoicesEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.voicesEndpoint = endpoint
	}
}

// Provider implements tts.Provider backed by the Murf streaming and HTTP APIs.
type Provider struct {
	apiKey           string
	sampleRate       int
	format           string
	streamEndpoint   string
	generateEndpoint string
	voicesEndpoint   string
	httpClient       *http.Client
}

// New creates a new Murf Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("murf: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:           apiKey,
		sampleRate:       defaultSampleRate,
		format:           defaultFormat,
		streamEndpoint:   streamEndpoint,
		generateEndpoint: generateEndpoint,
		voicesEndpoint:   voicesEndpoint,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceConfigMessage is the first message sent on a streaming connection.
type voiceConfigMessage struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

// textMessage carries the text to synthesise. End true closes the context so
// Murf flushes and finalises the audio.
type textMessage struct {
	Text string `json:"text"`
	End  bool   `json:"end"`
}

// audioResponse is a single streaming message from Murf.
type audioResponse struct {
	Audio string `json:"audio"` // base64-encoded audio
	Final bool   `json:"final"`
}

// SynthesizeStream opens a WebSocket to Murf, submits the text, and returns a
// channel emitting audio chunks with 1-based indices. The chunk carrying
// Murf's final marker has IsFinal set; the channel closes after it.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan tts.AudioChunk, error) {
	if voice.ID == "" {
		return nil, errors.New("murf: voice.ID must not be empty")
	}
	if text == "" {
		return nil, errors.New("murf: text must not be empty")
	}

	wsURL, err := buildStreamURL(p.streamEndpoint, p.apiKey, p.sampleRate, p.format)
	if err != nil {
		return nil, fmt.Errorf("murf: build URL: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("murf: dial: %w", err)
	}

	// Voice config must be the first frame on the connection.
	cfgBytes, _ := json.Marshal(buildVoiceConfig(voice))
	if err := conn.Write(ctx, websocket.MessageText, cfgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send voice config")
		return nil, fmt.Errorf("murf: send voice config: %w", err)
	}

	txtBytes, _ := json.Marshal(textMessage{Text: truncate(text), End: true})
	if err := conn.Write(ctx, websocket.MessageText, txtBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send text")
		return nil, fmt.Errorf("murf: send text: %w", err)
	}

	audioCh := make(chan tts.AudioChunk, 256)

	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		index := 0
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}

			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}

			var data []byte
			if resp.Audio != "" {
				data, err = base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
			}
			if len(data) == 0 && !resp.Final {
				continue
			}

			index++
			select {
			case audioCh <- tts.AudioChunk{Data: data, Index: index, IsFinal: resp.Final}:
			case <-ctx.Done():
				return
			}

			if resp.Final {
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- one-shot synthesis ----

// generateRequest is the payload for the gen2 HTTP render endpoint.
type generateRequest struct {
	VoiceID        string `json:"voiceId"`
	Style          string `json:"style"`
	Text           string `json:"text"`
	Rate           int    `json:"rate"`
	Pitch          int    `json:"pitch"`
	SampleRate     int    `json:"sampleRate"`
	Format         string `json:"format"`
	ChannelType    string `json:"channelType"`
	EncodeAsBase64 bool   `json:"encodeAsBase64"`
	Variation      int    `json:"variation"`
	ModelVersion   string `json:"modelVersion"`
}

// generateResponse is the gen2 HTTP render result.
type generateResponse struct {
	AudioFile             string  `json:"audioFile"`
	AudioLengthInSeconds  float64 `json:"audioLengthInSeconds"`
	ConsumedCharacterCount int    `json:"consumedCharacterCount"`
}

// Synthesize renders text to a hosted audio file via the HTTP API.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (*tts.SpeechResult, error) {
	if voice.ID == "" {
		return nil, errors.New("murf: voice.ID must not be empty")
	}
	if text == "" {
		return nil, errors.New("murf: text must not be empty")
	}

	payload := generateRequest{
		VoiceID:      voice.ID,
		Style:        styleOrDefault(voice),
		Text:         truncate(text),
		SampleRate:   48000,
		Format:       "MP3",
		ChannelType:  "STEREO",
		Variation:    1,
		ModelVersion: "GEN2",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("murf: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("murf: build request: %w", err)
	}
	req.Header.Set("api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("murf: generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("murf: generate: unexpected status %d: %s", resp.StatusCode, detail)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("murf: decode response: %w", err)
	}
	if gr.AudioFile == "" {
		return nil, errors.New("murf: no audio URL in response")
	}

	return &tts.SpeechResult{
		AudioURL:      gr.AudioFile,
		LengthSeconds: gr.AudioLengthInSeconds,
	}, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from the voice catalogue endpoint.
type voicesResponse struct {
	Voices []murfVoice `json:"voices"`
}

// murfVoice is a single voice entry from the Murf API.
type murfVoice struct {
	VoiceID     string   `json:"voiceId"`
	DisplayName string   `json:"displayName"`
	Locale      string   `json:"locale"`
	Gender      string   `json:"gender"`
	Styles      []string `json:"availableStyles"`
}

// ListVoices returns all voices available from Murf for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("murf: list voices: %w", err)
	}
	req.Header.Set("api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("murf: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("murf: list voices: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("murf: list voices read: %w", err)
	}
	return parseVoicesResponse(data)
}

// ---- helpers ----

// buildStreamURL constructs the streaming endpoint URL with auth and format
// query parameters.
func buildStreamURL(endpoint, apiKey string, sampleRate int, format string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api-key", apiKey)
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", format)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// buildVoiceConfig constructs the initial voice_config frame for a voice.
func buildVoiceConfig(voice tts.VoiceProfile) voiceConfigMessage {
	return voiceConfigMessage{
		VoiceConfig: voiceConfig{
			VoiceID:   voice.ID,
			Style:     styleOrDefault(voice),
			Variation: 1,
		},
	}
}

func styleOrDefault(voice tts.VoiceProfile) string {
	if voice.Style != "" {
		return voice.Style
	}
	return defaultStyle
}

// truncate shortens text to the Murf character limit, leaving room for an
// ellipsis marker the way the service UI does.
func truncate(text string) string {
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars-50] + "..."
}

// parseVoicesResponse parses a raw JSON byte slice (matching the Murf
// voice-list response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]tts.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]tts.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := map[string]string{}
		if v.Locale != "" {
			meta["locale"] = v.Locale
		}
		if v.Gender != "" {
			meta["gender"] = v.Gender
		}
		style := ""
		if len(v.Styles) > 0 {
			style = v.Styles[0]
		}
		profiles = append(profiles, tts.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.DisplayName,
			Provider: "murf",
			Style:    style,
			Metadata: meta,
		})
	}
	return profiles, nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
