// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled TurnEvent values and inspect
// which audio chunks were delivered.
//
// Example:
//
//	sess := &mock.Session{TurnsCh: make(chan stt.TurnEvent, 4)}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the audio bytes passed to Transcribe.
	Audio []byte
	// Cfg is the StreamConfig passed to Transcribe.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil,
	// StartStream returns a new default Session with a buffered channel.
	Session stt.SessionHandle

	// Sessions, when non-empty, overrides Session: each StartStream call
	// consumes the next entry. Useful when a test replaces the recognizer
	// mid-session and needs distinct handles.
	Sessions []stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// TranscribeText is returned by Transcribe.
	TranscribeText string

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// StartStream records the call and returns the next scripted session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if len(p.Sessions) > 0 {
		next := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return next, nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return &Session{TurnsCh: make(chan stt.TurnEvent, 16)}, nil
}

// Transcribe records the call and returns TranscribeText, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.StreamConfig) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: cp, Cfg: cfg})
	return p.TranscribeText, p.TranscribeErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall records a single invocation of Session.SendAudio.
type SendAudioCall struct {
	// Chunk is a copy of the audio bytes that were passed to SendAudio.
	Chunk []byte
}

// Session is a mock implementation of stt.SessionHandle.
// Callers should pre-populate or feed TurnsCh with the TurnEvent values they
// want the consumer to receive, then close it when done.
type Session struct {
	mu sync.Mutex

	// TurnsCh is the channel returned by Turns(). Callers own this channel
	// and are responsible for sending to and closing it in tests.
	TurnsCh chan stt.TurnEvent

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls records every call to SendAudio in order.
	SendAudioCalls []SendAudioCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Turns returns TurnsCh. The caller must have initialised TurnsCh before
// calling this method.
func (s *Session) Turns() <-chan stt.TurnEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TurnsCh
}

// Close records the call and returns CloseErr. The first Close also closes
// TurnsCh so that consumers draining the channel observe the session end.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if s.CloseCallCount == 1 && s.TurnsCh != nil {
		close(s.TurnsCh)
	}
	return s.CloseErr
}

// SentAudio returns a snapshot of all audio chunks delivered so far.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	for i, c := range s.SendAudioCalls {
		out[i] = c.Chunk
	}
	return out
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
