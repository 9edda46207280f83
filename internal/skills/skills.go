// Package skills gives the agent callable abilities beyond plain
// conversation: web search, weather, news headlines, and translation. Each
// skill is offered to the LLM as a tool definition; when the model answers
// with tool calls the Manager runs them and feeds the results back until the
// model produces a final text reply.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// maxToolRounds caps how many tool-call round trips one completion may take
// before the model is forced to answer with whatever it has.
const maxToolRounds = 4

// Skill is one callable ability. Execute receives the JSON argument object
// the model produced and returns a plain-text result that is fed back to the
// model as a tool message.
type Skill interface {
	Definition() llm.Tool
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Manager holds the registered skills and drives tool-call dispatch.
type Manager struct {
	mu     sync.RWMutex
	skills map[string]Skill
	order  []string
	log    *slog.Logger
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates an empty Manager. Register skills with [Manager.Register].
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		skills: make(map[string]Skill),
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds a skill under its tool name, replacing any previous skill
// with the same name.
func (m *Manager) Register(s Skill) {
	name := s.Definition().Name
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.skills[name]; !ok {
		m.order = append(m.order, name)
	}
	m.skills[name] = s
	m.log.Info("skill registered", "skill", name)
}

// Names returns the registered tool names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Len returns the number of registered skills.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.skills)
}

// Tools returns the tool definitions of all registered skills.
func (m *Manager) Tools() []llm.Tool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]llm.Tool, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.skills[name].Definition())
	}
	return out
}

// Execute runs the named skill with the given JSON arguments. Failures are
// returned as text rather than an error so the model can recover and explain
// the problem to the user.
func (m *Manager) Execute(ctx context.Context, call llm.ToolCall) string {
	m.mu.RLock()
	skill, ok := m.skills[call.Name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("unknown tool %q", call.Name)
	}

	started := time.Now()
	result, err := skill.Execute(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		m.log.Warn("skill execution failed", "skill", call.Name, "error", err)
		return fmt.Sprintf("the %s tool failed: %v", call.Name, err)
	}
	m.log.Info("skill executed", "skill", call.Name, "duration", time.Since(started))
	return result
}

// Complete runs a completion with tool dispatch: the registered skills are
// offered to the model, requested calls are executed, and their results are
// appended as tool messages until the model answers in text. With no skills
// registered this is a plain Complete.
func (m *Manager) Complete(ctx context.Context, p llm.Provider, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	req.Tools = m.Tools()
	if len(req.Tools) == 0 {
		return p.Complete(ctx, req)
	}

	for round := 0; ; round++ {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) == 0 || round >= maxToolRounds {
			return resp, nil
		}

		req.Messages = append(req.Messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			req.Messages = append(req.Messages, llm.Message{
				Role:       "tool",
				Content:    m.Execute(ctx, tc),
				ToolCallID: tc.ID,
			})
		}
	}
}

// clientSettings are the connection knobs shared by the HTTP-backed skills.
type clientSettings struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures an HTTP-backed skill.
type ClientOption func(*clientSettings)

// WithBaseURL overrides the skill's default API endpoint. Intended for tests
// against a local stand-in server.
func WithBaseURL(u string) ClientOption {
	return func(s *clientSettings) { s.baseURL = u }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *clientSettings) { s.client = c }
}

func newClientSettings(defaultURL string, opts ...ClientOption) clientSettings {
	s := clientSettings{
		baseURL: defaultURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}
