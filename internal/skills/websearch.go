package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// WebSearch searches the internet through the Tavily API.
type WebSearch struct {
	apiKey   string
	settings clientSettings
}

// NewWebSearch creates the web search skill. apiKey must be non-empty.
func NewWebSearch(apiKey string, opts ...ClientOption) (*WebSearch, error) {
	if apiKey == "" {
		return nil, errors.New("skills: tavily apiKey must not be empty")
	}
	return &WebSearch{
		apiKey:   apiKey,
		settings: newClientSettings(tavilyEndpoint, opts...),
	}, nil
}

// Definition implements Skill.
func (w *WebSearch) Definition() llm.Tool {
	return llm.Tool{
		Name:        "search_web",
		Description: "Search the internet for current information, news, facts, or answers to questions",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query or question to search for",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": "Maximum number of search results to return (default: 3)",
				},
			},
			"required": []string{"query"},
		},
	}
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type tavilyResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		URL     string `json:"url"`
	} `json:"results"`
}

// Execute implements Skill.
func (w *WebSearch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a webSearchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("skills: decode search arguments: %w", err)
	}
	if a.Query == "" {
		return "", errors.New("skills: search query must not be empty")
	}
	if a.MaxResults <= 0 {
		a.MaxResults = 3
	}

	body, err := json.Marshal(map[string]any{
		"api_key":             w.apiKey,
		"query":               a.Query,
		"search_depth":        "basic",
		"include_answer":      true,
		"include_raw_content": false,
		"max_results":         a.MaxResults,
	})
	if err != nil {
		return "", fmt.Errorf("skills: encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.settings.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("skills: build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.settings.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("skills: search request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("skills: search API returned status %d", resp.StatusCode)
	}

	var data tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("skills: decode search response: %w", err)
	}

	var b strings.Builder
	if data.Answer != "" {
		fmt.Fprintf(&b, "Answer: %s\n", data.Answer)
	}
	for i, r := range data.Results {
		if i >= a.MaxResults {
			break
		}
		content := r.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, content)
		if r.URL != "" {
			fmt.Fprintf(&b, "   %s\n", r.URL)
		}
	}
	if b.Len() == 0 {
		return "no results found", nil
	}
	return b.String(), nil
}
