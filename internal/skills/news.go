package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const newsAPIEndpoint = "https://newsapi.org/v2"

// News fetches headlines and topic searches through NewsAPI.
type News struct {
	apiKey   string
	settings clientSettings
}

// NewNews creates the news skill. apiKey must be non-empty.
func NewNews(apiKey string, opts ...ClientOption) (*News, error) {
	if apiKey == "" {
		return nil, errors.New("skills: newsapi apiKey must not be empty")
	}
	return &News{
		apiKey:   apiKey,
		settings: newClientSettings(newsAPIEndpoint, opts...),
	}, nil
}

// Definition implements Skill.
func (n *News) Definition() llm.Tool {
	return llm.Tool{
		Name:        "get_news",
		Description: "Get latest news headlines by category or search for specific topics",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search query for specific news topics (optional)",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "News category: business, entertainment, general, health, science, sports, technology",
					"enum": []string{
						"business", "entertainment", "general", "health",
						"science", "sports", "technology",
					},
				},
				"country": map[string]any{
					"type":        "string",
					"description": "Country code for news (e.g., 'us', 'gb', 'ca', default: 'us')",
				},
				"max_articles": map[string]any{
					"type":        "integer",
					"description": "Maximum number of articles to return (default: 5)",
				},
			},
		},
	}
}

type newsArgs struct {
	Query       string `json:"query"`
	Category    string `json:"category"`
	Country     string `json:"country"`
	MaxArticles int    `json:"max_articles"`
}

type newsResponse struct {
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Execute implements Skill.
func (n *News) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a newsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("skills: decode news arguments: %w", err)
	}
	if a.Country == "" {
		a.Country = "us"
	}
	if a.MaxArticles <= 0 {
		a.MaxArticles = 5
	}

	q := url.Values{}
	q.Set("apiKey", n.apiKey)
	q.Set("pageSize", strconv.Itoa(a.MaxArticles))

	// A topic query uses full-text search; otherwise top headlines for the
	// country, optionally narrowed by category.
	path := "/top-headlines"
	if a.Query != "" {
		path = "/everything"
		q.Set("q", a.Query)
		q.Set("sortBy", "publishedAt")
	} else {
		q.Set("country", a.Country)
		if a.Category != "" {
			q.Set("category", a.Category)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.settings.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("skills: build news request: %w", err)
	}
	resp, err := n.settings.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("skills: news request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("skills: news API returned status %d", resp.StatusCode)
	}

	var data newsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("skills: decode news response: %w", err)
	}
	if len(data.Articles) == 0 {
		return "no articles found", nil
	}

	var b strings.Builder
	for i, art := range data.Articles {
		if i >= a.MaxArticles {
			break
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, art.Title, art.Source.Name)
		if art.Description != "" {
			fmt.Fprintf(&b, "   %s\n", art.Description)
		}
		if art.URL != "" {
			fmt.Fprintf(&b, "   %s\n", art.URL)
		}
	}
	return b.String(), nil
}
