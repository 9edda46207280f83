package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/session"
)

// wsReadLimit bounds a single incoming frame. Audio arrives in small PCM
// chunks, so anything near this size is a misbehaving client.
const wsReadLimit = 1 << 20

// clientMessage is a control message received on the voice agent socket.
// Audio is sent as separate binary frames and never wrapped in JSON.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
}

// wsSink adapts a WebSocket connection to [pipeline.EventSink]. The mutex
// serialises writes from the run loop, the invocation goroutine, and the
// connection handler itself.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

var _ pipeline.EventSink = (*wsSink)(nil)

func (s *wsSink) Send(ctx context.Context, event any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wsjson.Write(ctx, s.conn, event)
}

// handleVoiceAgent serves one duplex voice agent connection. Text frames
// carry JSON control messages, binary frames carry raw PCM audio for the
// active recording.
func (s *Server) handleVoiceAgent(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(wsReadLimit)

	log := s.log.With("remote", r.RemoteAddr)
	s.metrics.ActiveConnections.Add(r.Context(), 1)
	defer s.metrics.ActiveConnections.Add(context.Background(), -1)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: conn}
	if err := sink.Send(ctx, pipeline.Ready("voice agent connected")); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	if !s.prov.complete() {
		log.Warn("rejecting voice session, providers not fully configured")
		_ = sink.Send(ctx, pipeline.Error("voice pipeline is not configured", ""))
		conn.Close(websocket.StatusInternalError, "providers not configured")
		return
	}

	go pipeline.Keepalive(ctx, conn, s.keepaliveInterval(), func(err error) {
		log.Warn("keepalive failed, closing connection", "error", err)
		conn.Close(websocket.StatusGoingAway, "keepalive failed")
		cancel()
	})

	var sess *session.Session[*pipeline.Pipeline]
	// Destroy by handle, not by ID: another connection may have registered a
	// newer session under the same ID by the time this one closes.
	defer func() {
		s.registry.DestroySession(context.Background(), sess)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("connection closed", "status", websocket.CloseStatus(err))
			return
		}
		switch typ {
		case websocket.MessageBinary:
			// Audio outside an active session is dropped; the pipeline also
			// drops frames outside the recording state.
			if sess != nil {
				sess.Runner().PushAudio(data)
			}
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				_ = sink.Send(ctx, pipeline.Error("malformed control message", ""))
				continue
			}
			if s.dispatchControl(ctx, conn, sink, log, &sess, msg) {
				return
			}
		}
	}
}

// dispatchControl applies one control message. It returns true when the
// connection was closed for a protocol violation.
func (s *Server) dispatchControl(ctx context.Context, conn *websocket.Conn, sink *wsSink, log *slog.Logger, sess **session.Session[*pipeline.Pipeline], msg clientMessage) bool {
	switch msg.Type {
	case "":
		conn.Close(websocket.StatusPolicyViolation, "missing message type")
		return true

	case "start_recording":
		id := msg.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		if cur := *sess; cur == nil || cur.ID() != id {
			if cur != nil {
				s.registry.DestroySession(ctx, cur)
			}
			*sess = s.startSession(ctx, id, sink)
		}
		(*sess).Runner().StartRecording(msg.VoiceID)

	case "stop_recording":
		if cur := *sess; cur != nil {
			cur.Runner().StopRecording()
		}

	case "clear_chat":
		if msg.SessionID == "" {
			conn.Close(websocket.StatusPolicyViolation, "clear_chat requires session_id")
			return true
		}
		if cur := *sess; cur != nil && cur.ID() == msg.SessionID {
			cur.Runner().ClearChat()
			return false
		}
		// No live pipeline for this ID; clear the store directly.
		if err := s.hist.Clear(ctx, msg.SessionID); err != nil {
			log.Error("failed to clear chat history", "session_id", msg.SessionID, "error", err)
			_ = sink.Send(ctx, pipeline.Error("failed to clear chat history", ""))
			return false
		}
		_ = sink.Send(ctx, pipeline.ChatCleared(msg.SessionID))

	default:
		_ = sink.Send(ctx, pipeline.Error("unknown message type: "+msg.Type, ""))
	}
	return false
}

// startSession builds a pipeline bound to this connection's sink and
// registers it. An existing session with the same ID, from this connection
// or an earlier one, is destroyed by the registry first.
func (s *Server) startSession(ctx context.Context, id string, sink pipeline.EventSink) *session.Session[*pipeline.Pipeline] {
	pc, histLimit := s.pipelineConfig()
	p := pipeline.New(pipeline.Config{
		SessionID:    id,
		VoiceID:      pc.VoiceID,
		SystemPrompt: pc.SystemPrompt,
		Debounce:     pc.Debounce,
		SampleRate:   s.sampleRate(),
		HistoryLimit: histLimit,
	}, s.prov.STT, s.prov.LLM, s.prov.TTS, s.hist, sink,
		pipeline.WithLogger(s.log),
		pipeline.WithMetrics(s.metrics),
	)
	return s.registry.Create(ctx, id, p)
}
