package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// OutputSchema is the structured-output contract sent to providers that
// accept a JSON schema. Every key is required and nullable so strict modes
// accept it; the model signals "not visible" with null.
func OutputSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"quantity":    nullable("number"),
			"unit_price":  nullable("number"),
			"total_price": map[string]any{"type": "number"},
			"discount":    nullable("number"),
			"sku":         nullable("string"),
			"confidence":  map[string]any{"type": []string{"number", "null"}, "minimum": 0, "maximum": 1},
		},
		"required": []string{"description", "quantity", "unit_price", "total_price", "discount", "sku", "confidence"},
	}
	fieldConfidence := map[string]any{
		"type":                 []string{"object", "null"},
		"additionalProperties": false,
		"properties": map[string]any{
			"merchant": nullable("number"),
			"total":    nullable("number"),
			"date":     nullable("number"),
		},
		"required": []string{"merchant", "total", "date"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"merchant_name":    nullable("string"),
			"total_amount":     nullable("number"),
			"transaction_date": map[string]any{"type": []string{"string", "null"}, "description": "YYYY-MM-DD"},
			"currency":         nullable("string"),
			"tax_amount":       nullable("number"),
			"subtotal":         nullable("number"),
			"line_items":       map[string]any{"type": "array", "items": item},
			"field_confidence": fieldConfidence,
		},
		"required": []string{
			"merchant_name", "total_amount", "transaction_date", "currency",
			"tax_amount", "subtotal", "line_items", "field_confidence",
		},
	}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

// envelopeSchema is the loose shape a reply must have before any field is
// read. Missing fields are fine; wrong container types are not.
const envelopeSchema = `{
	"type": "object",
	"properties": {
		"merchant_name":    {"type": ["string", "null"]},
		"total_amount":     {"type": ["number", "string", "null"]},
		"transaction_date": {"type": ["string", "null"]},
		"currency":         {"type": ["string", "null"]},
		"tax_amount":       {"type": ["number", "string", "null"]},
		"subtotal":         {"type": ["number", "string", "null"]},
		"line_items":       {"type": ["array", "null"], "items": {"type": "object"}},
		"field_confidence": {"type": ["object", "null"]}
	}
}`

var compileEnvelope = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("envelope.json", bytes.NewReader([]byte(envelopeSchema))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile("envelope.json")
})

// validateEnvelope decodes data and checks it against the envelope schema.
// Numbers are kept as json.Number so amounts keep their literal form.
func validateEnvelope(data []byte) (map[string]any, error) {
	schema, err := compileEnvelope()
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("json does not match schema: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("json is not an object")
	}
	return obj, nil
}
