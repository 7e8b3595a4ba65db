package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// OpenAIConfig configures an OpenAI-compatible chat/completions provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI implements Provider against any OpenAI-compatible endpoint that
// supports json_schema response formats and image inputs.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	log    *slog.Logger
}

// NewOpenAI creates the provider. A missing key is not an error here; every
// call then fails with a configuration error.
func NewOpenAI(cfg OpenAIConfig, client *http.Client, logger *slog.Logger) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{cfg: cfg, client: client, log: logger}
}

// Name returns "openai".
func (c *OpenAI) Name() string {
	return "openai"
}

// Generate sends the image as a data URL with a strict json_schema format.
func (c *OpenAI) Generate(ctx context.Context, req Request) ([]byte, error) {
	if c.cfg.APIKey == "" {
		return nil, configurationError(c.Name())
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image)
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": 0,
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "receipt_extraction",
				"strict": true,
				"schema": req.Schema,
			},
		},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": req.Prompt},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
	}
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, err := postJSON(ctx, c.client, c.Name(), c.cfg.BaseURL+"/chat/completions", body, headers, c.log)
	if err != nil {
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content *string `json:"content"`
				Refusal *string `json:"refusal"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, malformedError(c.Name(), raw, fmt.Errorf("decode openai response: %w", err))
	}
	if len(cc.Choices) == 0 {
		return nil, malformedError(c.Name(), raw, fmt.Errorf("no choices in openai response"))
	}
	msg := cc.Choices[0].Message
	if msg.Refusal != nil && *msg.Refusal != "" {
		return nil, malformedError(c.Name(), raw, fmt.Errorf("model refused: %s", *msg.Refusal))
	}
	if msg.Content == nil || strings.TrimSpace(*msg.Content) == "" {
		return nil, malformedError(c.Name(), raw, fmt.Errorf("empty message content"))
	}
	return []byte(strings.TrimSpace(*msg.Content)), nil
}

// Close is a no-op for the HTTP client.
func (c *OpenAI) Close() error {
	return nil
}
