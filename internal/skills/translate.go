package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

const translateEndpoint = "https://translation.googleapis.com/language/translate/v2"

// Translate converts text between languages through the Google Translate API.
type Translate struct {
	apiKey   string
	settings clientSettings
}

// NewTranslate creates the translation skill. apiKey must be non-empty.
func NewTranslate(apiKey string, opts ...ClientOption) (*Translate, error) {
	if apiKey == "" {
		return nil, errors.New("skills: translate apiKey must not be empty")
	}
	return &Translate{
		apiKey:   apiKey,
		settings: newClientSettings(translateEndpoint, opts...),
	}, nil
}

// Definition implements Skill.
func (t *Translate) Definition() llm.Tool {
	return llm.Tool{
		Name:        "translate_text",
		Description: "Translate text from one language to another. Supports auto-detection of the source language.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{
					"type":        "string",
					"description": "The text to translate",
				},
				"target_language": map[string]any{
					"type":        "string",
					"description": "Target language code (e.g., 'es' for Spanish, 'fr' for French, 'de' for German, 'ja' for Japanese)",
				},
				"source_language": map[string]any{
					"type":        "string",
					"description": "Source language code (optional, auto-detected if not provided)",
				},
			},
			"required": []string{"text", "target_language"},
		},
	}
}

type translateArgs struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language"`
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

// Execute implements Skill.
func (t *Translate) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var a translateArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("skills: decode translate arguments: %w", err)
	}
	if a.Text == "" {
		return "", errors.New("skills: translate text must not be empty")
	}
	if a.TargetLanguage == "" {
		return "", errors.New("skills: translate target language must not be empty")
	}

	q := url.Values{}
	q.Set("key", t.apiKey)
	q.Set("q", a.Text)
	q.Set("target", a.TargetLanguage)
	q.Set("format", "text")
	if a.SourceLanguage != "" {
		q.Set("source", a.SourceLanguage)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.settings.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("skills: build translate request: %w", err)
	}
	resp, err := t.settings.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("skills: translate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("skills: translate API returned status %d", resp.StatusCode)
	}

	var data translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("skills: decode translate response: %w", err)
	}
	if len(data.Data.Translations) == 0 {
		return "", errors.New("skills: translate API returned no translations")
	}

	tr := data.Data.Translations[0]
	source := a.SourceLanguage
	if tr.DetectedSourceLanguage != "" {
		source = tr.DetectedSourceLanguage
	}
	if source == "" {
		source = "unknown"
	}
	return fmt.Sprintf("Translation (%s -> %s): %s", source, a.TargetLanguage, tr.TranslatedText), nil
}
