package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// payload is a provider reply read field by field. Every field is optional.
type payload struct {
	MerchantName    *string
	TotalAmount     *decimal.Decimal
	TransactionDate string
	Currency        *string
	TaxAmount       *decimal.Decimal
	Subtotal        *decimal.Decimal
	LineItems       []ProviderLineItem

	MerchantConfidence *float64
	TotalConfidence    *float64
	DateConfidence     *float64
}

// cutJSONObject strips markdown fences and any prose around the outermost
// JSON object.
func cutJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// parsePayload validates the reply's envelope and reads each field on its
// own, so one bad field never discards the rest.
func parsePayload(raw []byte) (*payload, error) {
	text, err := cutJSONObject(string(raw))
	if err != nil {
		return nil, err
	}
	obj, err := validateEnvelope([]byte(text))
	if err != nil {
		return nil, err
	}

	p := &payload{
		MerchantName: stringField(obj, "merchant_name", "merchant"),
		TotalAmount:  amountField(obj, "total_amount", "total"),
		Currency:     stringField(obj, "currency", "currency_code"),
		TaxAmount:    amountField(obj, "tax_amount", "tax"),
		Subtotal:     amountField(obj, "subtotal"),
	}
	if d := stringField(obj, "transaction_date", "date"); d != nil {
		p.TransactionDate = *d
	}
	if p.Currency != nil {
		c := strings.ToUpper(*p.Currency)
		p.Currency = &c
	}

	if items, ok := obj["line_items"].([]any); ok {
		p.LineItems = make([]ProviderLineItem, 0, len(items))
		for _, it := range items {
			m, _ := it.(map[string]any)
			p.LineItems = append(p.LineItems, lineItemField(m))
		}
	}

	if fc, ok := obj["field_confidence"].(map[string]any); ok {
		p.MerchantConfidence = numberField(fc, "merchant")
		p.TotalConfidence = numberField(fc, "total")
		p.DateConfidence = numberField(fc, "date")
	}
	return p, nil
}

func lineItemField(m map[string]any) ProviderLineItem {
	item := ProviderLineItem{
		Quantity:   tokenField(m, "quantity", "qty"),
		UnitPrice:  tokenField(m, "unit_price", "price"),
		TotalPrice: tokenField(m, "total_price", "total", "amount"),
		Discount:   tokenField(m, "discount"),
	}
	if s := stringField(m, "description", "name"); s != nil {
		item.Description = *s
	}
	if s := stringField(m, "sku", "product_code"); s != nil {
		item.SKU = *s
	}
	if b, ok := m["discounted"].(bool); ok {
		item.Discounted = b
	}
	if c := numberField(m, "confidence"); c != nil {
		item.Confidences = append(item.Confidences, *c)
	}
	if fc, ok := m["field_confidence"].(map[string]any); ok {
		for _, key := range []string{"description", "quantity", "unit_price", "total_price"} {
			if c := numberField(fc, key); c != nil {
				item.Confidences = append(item.Confidences, *c)
			}
		}
	}
	return item
}

func stringField(m map[string]any, keys ...string) *string {
	for _, key := range keys {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") {
			continue
		}
		return &s
	}
	return nil
}

// tokenField returns the literal text of a numeric field. String values
// are accepted when they hold an amount.
func tokenField(m map[string]any, keys ...string) json.Number {
	for _, key := range keys {
		switch v := m[key].(type) {
		case json.Number:
			return v
		case string:
			if d, ok := parseAmount(v); ok {
				return json.Number(d.String())
			}
		}
	}
	return ""
}

func amountField(m map[string]any, keys ...string) *decimal.Decimal {
	tok := tokenField(m, keys...)
	if tok == "" {
		return nil
	}
	d, ok := parseAmount(tok.String())
	if !ok {
		return nil
	}
	return &d
}

func numberField(m map[string]any, key string) *float64 {
	n, ok := m[key].(json.Number)
	if !ok {
		return nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil
	}
	f = clamp(f)
	return &f
}

// cleanMerchant collapses whitespace and title-cases names printed in
// capitals.
func cleanMerchant(name *string) *string {
	if name == nil {
		return nil
	}
	s := strings.Join(strings.Fields(*name), " ")
	if s == "" {
		return nil
	}
	if strings.ToUpper(s) == s && strings.ToLower(s) != s {
		s = cases.Title(language.English).String(s)
	}
	return &s
}
