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

// Ollama implements Provider against a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
	log     *slog.Logger
}

// NewOllama creates an Ollama provider. Vision models that follow a JSON
// schema well work best, for example:
//   - qwen2.5vl:7b (good OCR capabilities)
//   - llava:13b
//   - llama3.2-vision
//
// Ollama needs no credential; an unreachable server surfaces as a
// provider error on the first call.
func NewOllama(baseURL, modelName string, client *http.Client, logger *slog.Logger) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "qwen2.5vl:7b"
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  client,
		log:     logger,
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Name returns "ollama".
func (o *Ollama) Name() string {
	return "ollama"
}

// Generate posts the image to /api/chat with the schema as the format.
func (o *Ollama) Generate(ctx context.Context, req Request) ([]byte, error) {
	body := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Format: req.Schema,
		Options: map[string]any{
			"temperature": 0,
		},
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{
				Role:    "user",
				Content: req.Prompt,
				Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
			},
		},
	}

	raw, err := postJSON(ctx, o.client, o.Name(), o.baseURL+"/api/chat", body, nil, o.log)
	if err != nil {
		return nil, err
	}

	var chatResp ollamaChatResponse
	if err := json.Unmarshal(raw, &chatResp); err != nil {
		return nil, malformedError(o.Name(), raw, fmt.Errorf("decoding response: %w", err))
	}
	content := strings.TrimSpace(chatResp.Message.Content)
	if content == "" {
		return nil, malformedError(o.Name(), raw, fmt.Errorf("empty message content"))
	}
	return []byte(content), nil
}

// Close is a no-op for the HTTP client.
func (o *Ollama) Close() error {
	return nil
}
