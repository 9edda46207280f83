// Package pipeline implements the per-session voice turn loop: streaming
// speech recognition, transcript finalization debouncing, LLM generation,
// and speech synthesis, with progress relayed to an [EventSink].
//
// All session state is owned by a single run loop ([Pipeline.Run]) that
// consumes a typed inbox. Public methods post messages into that inbox and
// never touch state directly, so no locking is needed around the state
// machine itself.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// State identifies where a session currently is in its turn lifecycle.
type State int32

const (
	// StateIdle means no recording or generation is in progress.
	StateIdle State = iota
	// StateRecording means a streaming recognizer is live and audio frames
	// are being forwarded to it.
	StateRecording
	// StateAwaitingCommit means recording stopped and a finalization timer
	// may still be pending.
	StateAwaitingCommit
	// StateGenerating means an LLM invocation is in flight.
	StateGenerating
	// StateSynthesizing means speech synthesis is in flight.
	StateSynthesizing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateAwaitingCommit:
		return "awaiting_commit"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Defaults applied by [New] when the corresponding Config field is zero.
const (
	DefaultDebounce     = time.Second
	DefaultSampleRate   = 16000
	DefaultHistoryLimit = 50
)

// Config carries the per-session parameters of a [Pipeline].
type Config struct {
	// SessionID identifies the conversation; chat history is keyed by it.
	SessionID string

	// VoiceID selects the synthesis voice when the client does not name one.
	VoiceID string

	// SystemPrompt is prepended to every LLM invocation.
	SystemPrompt string

	// Debounce is the quiet period a final transcript must survive before it
	// is committed to generation.
	Debounce time.Duration

	// SampleRate is the PCM sample rate of client audio in Hz.
	SampleRate int

	// HistoryLimit bounds how many stored messages are replayed to the LLM.
	HistoryLimit int
}

// inbox message kinds. Only the run loop reads these.
type (
	startMsg struct{ voiceID string }
	stopMsg  struct{}
	clearMsg struct{}
	audioMsg struct{ frame []byte }
	turnMsg  struct {
		gen uint64
		ev  stt.TurnEvent
	}
	commitMsg struct{ tok commitToken }
	// invProgressMsg and invDoneMsg come from the invocation goroutine.
	invProgressMsg struct {
		seq   uint64
		state State
	}
	invDoneMsg struct {
		seq uint64
		err error
	}
)

// Pipeline drives one voice session. Create it with [New], start it with
// [Pipeline.Run], and feed it through the post methods. After Run returns the
// post methods become no-ops.
type Pipeline struct {
	cfg     Config
	stt     stt.Provider
	llm     llm.Provider
	tts     tts.Provider
	hist    history.Store
	sink    EventSink
	log     *slog.Logger
	metrics *observe.Metrics

	inbox chan any
	done  chan struct{}
	deb   *debouncer

	// published for observers; the run loop is the only writer
	state atomic.Int32

	// run-loop-owned fields below, never touched from outside the loop
	recognizer    stt.SessionHandle
	recognizerGen uint64
	voiceID       string
	invSeq        uint64
	invCancel     context.CancelFunc
	sttStarted    time.Time
}

// Option customises a [Pipeline].
type Option func(*Pipeline)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline for one session. The sink receives every
// server-to-client event in emission order.
func New(cfg Config, sttp stt.Provider, llmp llm.Provider, ttsp tts.Provider, hist history.Store, sink EventSink, opts ...Option) *Pipeline {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}

	p := &Pipeline{
		cfg:     cfg,
		stt:     sttp,
		llm:     llmp,
		tts:     ttsp,
		hist:    hist,
		sink:    sink,
		log:     slog.Default(),
		inbox:   make(chan any, 64),
		done:    make(chan struct{}),
		voiceID: cfg.VoiceID,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.log = p.log.With("session_id", cfg.SessionID)
	p.deb = newDebouncer(cfg.Debounce, func(tok commitToken) {
		p.post(commitMsg{tok: tok})
	})
	return p
}

// State returns the last state published by the run loop.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// StartRecording requests a new recording turn. A non-empty voiceID overrides
// the session voice for subsequent synthesis.
func (p *Pipeline) StartRecording(voiceID string) {
	p.post(startMsg{voiceID: voiceID})
}

// StopRecording ends the current recording turn and flushes the recognizer.
func (p *Pipeline) StopRecording() {
	p.post(stopMsg{})
}

// ClearChat erases the stored conversation history for this session.
func (p *Pipeline) ClearChat() {
	p.post(clearMsg{})
}

// PushAudio forwards one binary PCM frame. Frames arriving while the session
// is not recording are dropped.
func (p *Pipeline) PushAudio(frame []byte) {
	p.post(audioMsg{frame: frame})
}

// post delivers a message to the run loop, dropping it once the loop exited.
func (p *Pipeline) post(msg any) {
	select {
	case p.inbox <- msg:
	case <-p.done:
	}
}

// Run executes the session loop until ctx is cancelled. It always returns
// nil; teardown of the recognizer and any in-flight invocation happens before
// it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer func() {
		p.deb.Cancel()
		p.cancelInvocation()
		p.closeRecognizer()
		p.setState(StateIdle)
		close(p.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.inbox:
			switch m := msg.(type) {
			case startMsg:
				p.handleStart(ctx, m.voiceID)
			case stopMsg:
				p.handleStop(ctx)
			case clearMsg:
				p.handleClear(ctx)
			case audioMsg:
				p.handleAudio(m.frame)
			case turnMsg:
				p.handleTurn(ctx, m)
			case commitMsg:
				p.handleCommit(ctx, m.tok)
			case invProgressMsg:
				if m.seq == p.invSeq {
					p.setState(m.state)
				}
			case invDoneMsg:
				if m.seq == p.invSeq {
					// Release the invocation context; a finished child
					// stays registered on the run context until cancelled.
					if p.invCancel != nil {
						p.invCancel()
						p.invCancel = nil
					}
					p.setState(StateIdle)
				}
			}
		}
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
}

// emit sends an event to the sink, logging delivery failures. Events that
// cannot be delivered are dropped; the transport is responsible for closing
// the connection when its writer breaks.
func (p *Pipeline) emit(ctx context.Context, ev any) {
	if err := p.sink.Send(ctx, ev); err != nil {
		p.log.Warn("event delivery failed", "error", err)
	}
}

// handleStart begins a new recording turn. Any pending finalization is
// discarded, any in-flight generation is cancelled with its partial output
// thrown away, and a previous live recognizer is replaced.
func (p *Pipeline) handleStart(ctx context.Context, voiceID string) {
	p.deb.Cancel()
	p.cancelInvocation()
	p.closeRecognizer()

	if voiceID != "" {
		p.voiceID = voiceID
	} else {
		p.voiceID = p.cfg.VoiceID
	}

	h, err := p.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: p.cfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		p.log.Error("recognizer start failed", "error", err)
		p.metrics.RecordProviderError(ctx, "stt", "stream")
		p.emit(ctx, Error("failed to start speech recognition", StepSTT))
		p.setState(StateIdle)
		return
	}

	p.recognizerGen++
	gen := p.recognizerGen
	p.recognizer = h
	p.sttStarted = time.Now()

	// Pump recognizer turns into the inbox. The goroutine exits when the
	// provider closes its turn channel.
	go func() {
		for ev := range h.Turns() {
			p.post(turnMsg{gen: gen, ev: ev})
		}
	}()

	p.setState(StateRecording)
	p.emit(ctx, RecordingStarted(p.cfg.SessionID))
	p.emit(ctx, STTStarted())
	p.emit(ctx, Status(StepRecording, "active"))
}

// handleStop ends recording. The recognizer is closed, which flushes any
// trailing turn events before its channel closes; those still reach the loop
// because the generation counter stays valid.
func (p *Pipeline) handleStop(ctx context.Context) {
	if p.State() != StateRecording {
		return
	}
	p.closeRecognizerKeepGen()
	p.setState(StateAwaitingCommit)
	p.emit(ctx, Status(StepRecording, "complete"))
}

func (p *Pipeline) handleClear(ctx context.Context) {
	if err := p.hist.Clear(ctx, p.cfg.SessionID); err != nil {
		p.log.Error("history clear failed", "error", err)
		p.emit(ctx, Error("failed to clear chat history", ""))
		return
	}
	p.emit(ctx, ChatCleared(p.cfg.SessionID))
}

func (p *Pipeline) handleAudio(frame []byte) {
	if p.State() != StateRecording || p.recognizer == nil {
		return
	}
	if err := p.recognizer.SendAudio(frame); err != nil {
		p.log.Warn("audio forward failed", "error", err)
	}
}

// handleTurn processes one recognizer event. Events from a superseded
// recognizer generation are dropped.
func (p *Pipeline) handleTurn(ctx context.Context, m turnMsg) {
	if m.gen != p.recognizerGen {
		return
	}
	if !m.ev.EndOfTurn {
		if strings.TrimSpace(m.ev.Transcript) != "" {
			p.emit(ctx, PartialTranscript(m.ev.Transcript))
		}
		return
	}
	if !p.deb.Observe(m.ev.Transcript) {
		p.emit(ctx, NoSpeechDetected())
		return
	}
	p.emit(ctx, Status(StepSTT, "complete"))
	p.emit(ctx, FinalTranscript(m.ev.Transcript))
}

// handleCommit fires when a final transcript survived the quiet period. A
// stale token (superseded or cancelled since it was armed) is ignored.
func (p *Pipeline) handleCommit(ctx context.Context, tok commitToken) {
	if !p.deb.Consume(tok) {
		return
	}

	// A still-running invocation belongs to a superseded turn.
	if p.invCancel != nil {
		p.invCancel()
		p.invCancel = nil
	}

	p.metrics.STTDuration.Record(ctx, time.Since(p.sttStarted).Seconds())

	if err := p.hist.Append(ctx, p.cfg.SessionID, history.Message{
		Role:    "user",
		Content: tok.Text,
	}); err != nil {
		p.log.Warn("history append failed", "role", "user", "error", err)
	}

	p.setState(StateGenerating)
	p.emit(ctx, Status(StepAI, "thinking"))

	p.invSeq++
	seq := p.invSeq
	invCtx, cancel := context.WithCancel(ctx)
	p.invCancel = cancel
	go p.invoke(invCtx, seq, tok.Text, p.voiceID)
}

// cancelInvocation aborts any in-flight generation. Its partial output is
// discarded, and invSeq moves on so the aborted goroutine's trailing
// invDoneMsg cannot disturb whatever state the pipeline is in by then.
func (p *Pipeline) cancelInvocation() {
	if p.invCancel != nil {
		p.invCancel()
		p.invCancel = nil
		p.invSeq++
	}
	p.setState(StateIdle)
}

func (p *Pipeline) closeRecognizer() {
	p.closeRecognizerKeepGen()
	// Invalidate in-flight turn events from the old recognizer.
	p.recognizerGen++
}

func (p *Pipeline) closeRecognizerKeepGen() {
	if p.recognizer == nil {
		return
	}
	if err := p.recognizer.Close(); err != nil {
		p.log.Warn("recognizer close failed", "error", err)
	}
	p.recognizer = nil
}

// invoke runs generation and synthesis for one committed transcript. It runs
// on its own goroutine with a cancellable context; cancellation silences all
// further output.
func (p *Pipeline) invoke(ctx context.Context, seq uint64, transcript, voiceID string) {
	messages, err := p.conversation(ctx, transcript)
	if err != nil {
		p.failInvocation(ctx, seq, StepAI, err)
		return
	}

	llmStart := time.Now()
	chunks, err := p.llm.StreamCompletion(ctx, llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: p.cfg.SystemPrompt,
	})
	if err != nil {
		p.failInvocation(ctx, seq, StepAI, err)
		return
	}

	var reply strings.Builder
	for ch := range chunks {
		if ch.FinishReason == "error" {
			p.failInvocation(ctx, seq, StepAI, errors.New("completion stream failed"))
			return
		}
		if ch.Text == "" {
			continue
		}
		reply.WriteString(ch.Text)
		p.emit(ctx, LLMChunk(ch.Text))
	}
	if ctx.Err() != nil {
		p.post(invDoneMsg{seq: seq, err: ctx.Err()})
		return
	}
	response := reply.String()
	p.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds())
	p.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")

	if err := p.hist.Append(ctx, p.cfg.SessionID, history.Message{
		Role:    "assistant",
		Content: response,
	}); err != nil {
		p.log.Warn("history append failed", "role", "assistant", "error", err)
	}

	p.emit(ctx, LLMComplete(response))
	p.emit(ctx, Status(StepAI, "complete"))
	p.emit(ctx, Status(StepTTS, "generating"))
	p.post(invProgressMsg{seq: seq, state: StateSynthesizing})

	ttsStart := time.Now()
	audio, err := p.tts.SynthesizeStream(ctx, response, tts.VoiceProfile{ID: voiceID})
	if err != nil {
		p.failInvocation(ctx, seq, StepTTS, err)
		return
	}

	chunksSent := 0
	sawFinal := false
	for ac := range audio {
		chunksSent++
		sawFinal = sawFinal || ac.IsFinal
		p.emit(ctx, AudioChunk(ac.Data, chunksSent, ac.IsFinal))
		p.metrics.AudioChunks.Add(ctx, 1)
	}
	if ctx.Err() != nil {
		p.post(invDoneMsg{seq: seq, err: ctx.Err()})
		return
	}
	if !sawFinal {
		p.failInvocation(ctx, seq, StepTTS, errors.New("synthesis stream ended without a final chunk"))
		return
	}
	p.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds())
	p.metrics.PipelineDuration.Record(ctx, time.Since(llmStart).Seconds())
	p.metrics.RecordTurn(ctx, "ok")

	p.emit(ctx, TTSComplete(chunksSent))
	p.emit(ctx, PipelineComplete(transcript, response, chunksSent))
	p.post(invDoneMsg{seq: seq, err: nil})
}

// conversation loads recent history for the LLM request. The committed user
// transcript was appended before the invocation started, so it is part of
// the loaded window; when loading fails the turn still proceeds with just
// the transcript.
func (p *Pipeline) conversation(ctx context.Context, transcript string) ([]llm.Message, error) {
	stored, err := p.hist.Recent(ctx, p.cfg.SessionID, p.cfg.HistoryLimit)
	if err != nil {
		p.log.Warn("history load failed", "error", err)
		return []llm.Message{{Role: "user", Content: transcript}}, nil
	}
	messages := make([]llm.Message, 0, len(stored)+1)
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	if len(messages) == 0 || messages[len(messages)-1].Content != transcript {
		messages = append(messages, llm.Message{Role: "user", Content: transcript})
	}
	return messages, nil
}

// failInvocation reports a stage failure unless the invocation was cancelled,
// in which case the error is swallowed because the client asked for a new
// turn and no longer cares about this one.
func (p *Pipeline) failInvocation(ctx context.Context, seq uint64, step string, err error) {
	if ctx.Err() == nil {
		p.log.Error("pipeline stage failed", "step", step, "error", err)
		p.metrics.RecordProviderError(ctx, step, "stream")
		p.metrics.RecordTurn(ctx, "error")
		p.emit(ctx, PipelineError(err.Error(), step))
	}
	p.post(invDoneMsg{seq: seq, err: err})
}
