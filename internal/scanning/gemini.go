package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements Provider using Google Gemini structured output.
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
}

// NewGemini creates a Gemini provider. An empty apiKey yields a provider
// whose calls fail with a configuration error instead of failing here.
func NewGemini(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*Gemini, error) {
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	g := &Gemini{modelName: modelName}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = geminiSchema()
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	g.client = client
	g.model = model
	return g, nil
}

// Name returns "gemini".
func (g *Gemini) Name() string {
	return "gemini"
}

// Generate sends the PNG and prompt and returns the model's JSON text.
func (g *Gemini) Generate(ctx context.Context, req Request) ([]byte, error) {
	if g.client == nil {
		return nil, configurationError(g.Name())
	}

	// genai.ImageData expects just the format suffix; images are always PNG here
	resp, err := g.model.GenerateContent(ctx, genai.ImageData("png", req.Image), genai.Text(req.Prompt))
	if err != nil {
		return nil, geminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, malformedError(g.Name(), nil, fmt.Errorf("no response from gemini"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return nil, malformedError(g.Name(), nil, fmt.Errorf("no text in gemini response"))
	}
	return []byte(out), nil
}

// Close closes the Gemini client.
func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// geminiError maps SDK errors onto the taxonomy, keeping the HTTP code.
func geminiError(err error) *ExtractionError {
	const provider = "gemini"

	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return malformedError(provider, nil, err)
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		ee := statusError(provider, gErr.Code, []byte(gErr.Body))
		if ee.Body == "" {
			ee.Body = gErr.Message
		}
		ee.Err = err
		return ee
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPCode() > 0 {
		ee := statusError(provider, apiErr.HTTPCode(), []byte(apiErr.Error()))
		ee.Err = err
		return ee
	}

	return transportError(provider, err)
}

// geminiSchema mirrors OutputSchema in the SDK's schema type.
func geminiSchema() *genai.Schema {
	number := func() *genai.Schema { return &genai.Schema{Type: genai.TypeNumber, Nullable: true} }
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString, Nullable: true} }

	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"description": {Type: genai.TypeString},
			"quantity":    number(),
			"unit_price":  number(),
			"total_price": {Type: genai.TypeNumber},
			"discount":    number(),
			"sku":         str(),
			"confidence":  number(),
		},
		Required: []string{"description", "total_price"},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"merchant_name":    str(),
			"total_amount":     number(),
			"transaction_date": {Type: genai.TypeString, Nullable: true, Description: "YYYY-MM-DD"},
			"currency":         str(),
			"tax_amount":       number(),
			"subtotal":         number(),
			"line_items":       {Type: genai.TypeArray, Items: item},
			"field_confidence": {
				Type:     genai.TypeObject,
				Nullable: true,
				Properties: map[string]*genai.Schema{
					"merchant": number(),
					"total":    number(),
					"date":     number(),
				},
			},
		},
		Required: []string{"merchant_name", "total_amount", "transaction_date", "line_items"},
	}
}
