// Package assemblyai provides an AssemblyAI-backed STT provider using the
// Universal-Streaming WebSocket API. It implements the stt.Provider interface.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

const (
	streamEndpoint = "wss://streaming.assemblyai.com/v3/ws"
	apiEndpoint    = "https://api.assemblyai.com"

	defaultSampleRate = 16000

	// pollInterval is how often batch transcription jobs are polled for
	// completion.
	pollInterval = time.Second
)

// closeGrace is how long Close waits for AssemblyAI to acknowledge a
// Terminate before tearing the connection down. Var so tests can shorten it.
var closeGrace = 2 * time.Second

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithSampleRate sets the provider-level default audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithStreamEndpoint overrides the streaming WebSocket endpoint. Intended for
// tests against a local stand-in server.
func WithStreamEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.streamEndpoint = endpoint
	}
}

// WithAPIEndpoint overrides the REST API base URL used for batch
// transcription. Intended for tests against a local stand-in server.
func WithAPIEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.apiEndpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the AssemblyAI streaming and
// batch APIs.
type Provider struct {
	apiKey         string
	sampleRate     int
	streamEndpoint string
	apiEndpoint    string
	httpClient     *http.Client
}

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:         apiKey,
		sampleRate:     defaultSampleRate,
		streamEndpoint: streamEndpoint,
		apiEndpoint:    apiEndpoint,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream opens a streaming transcription session with AssemblyAI.
// It respects cfg.SampleRate; turn formatting is always requested so that
// end-of-turn transcripts arrive punctuated.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := buildStreamURL(p.streamEndpoint, p.effectiveSampleRate(cfg))
	if err != nil {
		return nil, fmt.Errorf("assemblyai: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	sess := &session{
		conn:  conn,
		turns: make(chan stt.TurnEvent, 64),
		audio: make(chan []byte, 256),
		done:  make(chan struct{}),
	}

	sess.wg.Add(2)
	go sess.readLoop(ctx)
	go sess.writeLoop(ctx)

	return sess, nil
}

func (p *Provider) effectiveSampleRate(cfg stt.StreamConfig) int {
	if cfg.SampleRate > 0 {
		return cfg.SampleRate
	}
	return p.sampleRate
}

// buildStreamURL constructs the Universal-Streaming endpoint URL.
func buildStreamURL(endpoint string, sampleRate int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- streaming session ----

// streamMessage is the JSON structure AssemblyAI sends over the streaming
// socket. Type is one of "Begin", "Turn", or "Termination".
type streamMessage struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	TurnOrder  int    `json:"turn_order"`
}

// session is a live AssemblyAI streaming session. It implements
// stt.SessionHandle.
type session struct {
	conn  *websocket.Conn
	turns chan stt.TurnEvent
	audio chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM audio chunk for delivery to AssemblyAI.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return errors.New("assemblyai: session is closed")
	}
}

// Turns returns the channel of recognition updates.
func (s *session) Turns() <-chan stt.TurnEvent { return s.turns }

// Close terminates the session cleanly. An upstream that never acknowledges
// the Terminate must not stall the caller, so the wait for the loops is
// bounded and the connection is torn down to force a blocked read out.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		// Ask AssemblyAI to flush pending audio and finalise the stream.
		_ = s.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"Terminate"}`))

		finished := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(closeGrace):
		}
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
		<-finished
	})
	return nil
}

// writeLoop reads from the audio channel and sends binary messages.
func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				return
			}
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-s.done:
			// Drain the audio channel before exiting.
			for {
				select {
				case chunk, ok := <-s.audio:
					if !ok {
						return
					}
					_ = s.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives JSON messages from AssemblyAI and dispatches turn events.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.turns)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}

		ev, ok := parseStreamMessage(msg)
		if !ok {
			continue
		}

		select {
		case s.turns <- ev:
		case <-s.done:
		}
	}
}

// parseStreamMessage parses a raw streaming message into a TurnEvent.
// Returns (zero, false) for Begin, Termination, and unparseable messages.
func parseStreamMessage(data []byte) (stt.TurnEvent, bool) {
	var msg streamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return stt.TurnEvent{}, false
	}
	if msg.Type != "Turn" {
		return stt.TurnEvent{}, false
	}
	return stt.TurnEvent{
		Transcript: msg.Transcript,
		EndOfTurn:  msg.EndOfTurn,
		Seq:        msg.TurnOrder,
	}, true
}

// ---- batch transcription ----

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe uploads a complete recording and polls the transcript job until
// it completes. cfg is accepted for interface symmetry; the batch API detects
// the audio format itself.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.StreamConfig) (string, error) {
	audioURL, err := p.upload(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}

	jobID, err := p.createTranscript(ctx, audioURL, cfg.Language)
	if err != nil {
		return "", fmt.Errorf("assemblyai: create transcript: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		job, err := p.getTranscript(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("assemblyai: poll transcript: %w", err)
		}
		switch job.Status {
		case "completed":
			return job.Text, nil
		case "error":
			return "", fmt.Errorf("assemblyai: transcription failed: %s", job.Error)
		}
	}
}

func (p *Provider) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiEndpoint+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var resp uploadResponse
	if err := p.doJSON(req, &resp); err != nil {
		return "", err
	}
	if resp.UploadURL == "" {
		return "", errors.New("empty upload_url in response")
	}
	return resp.UploadURL, nil
}

func (p *Provider) createTranscript(ctx context.Context, audioURL, language string) (string, error) {
	payload := map[string]any{"audio_url": audioURL}
	if language != "" {
		payload["language_code"] = language
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiEndpoint+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var job transcriptJob
	if err := p.doJSON(req, &job); err != nil {
		return "", err
	}
	if job.ID == "" {
		return "", errors.New("empty transcript id in response")
	}
	return job.ID, nil
}

func (p *Provider) getTranscript(ctx context.Context, id string) (*transcriptJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiEndpoint+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	var job transcriptJob
	if err := p.doJSON(req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (p *Provider) doJSON(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)
