package scanning

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ReceiptExtraction is the structured result of reading one receipt image.
type ReceiptExtraction struct {
	MerchantName    *string           `json:"merchant_name"`
	TotalAmount     *Money            `json:"total_amount"` // zero means no grand total was visible
	TransactionDate *time.Time        `json:"-"`
	Currency        *string           `json:"currency"`
	TaxAmount       *Money            `json:"tax_amount"`
	Subtotal        *Money            `json:"subtotal"`
	LineItems       []LineItem        `json:"line_items"`
	Confidence      ConfidenceSummary `json:"confidence"`

	// ExtractionConfidence is the presence heuristic for the whole result,
	// 0.5 when nothing at all was extracted.
	ExtractionConfidence float64  `json:"extraction_confidence"`
	DateIssues           []string `json:"date_issues,omitempty"`
	// RawTransactionDate holds a provider date that could not be read.
	// TransactionDate stays nil when it is set.
	RawTransactionDate *string `json:"raw_transaction_date,omitempty"`
	// Partial marks a page without a grand total, e.g. page one of a
	// multi-page receipt.
	Partial   bool   `json:"partial"`
	Provider  string `json:"provider"`
	RequestID string `json:"request_id"`

	// RawProviderPayload is kept for auditing only.
	RawProviderPayload []byte `json:"raw_provider_payload,omitempty"`
}

type extractionJSON ReceiptExtraction

// MarshalJSON writes the transaction date as a calendar date.
func (r ReceiptExtraction) MarshalJSON() ([]byte, error) {
	var date *string
	if r.TransactionDate != nil {
		s := r.TransactionDate.Format(time.DateOnly)
		date = &s
	}
	return json.Marshal(struct {
		extractionJSON
		TransactionDate *string `json:"transaction_date"`
	}{extractionJSON(r), date})
}

// UnmarshalJSON reads the calendar date written by MarshalJSON.
func (r *ReceiptExtraction) UnmarshalJSON(data []byte) error {
	aux := struct {
		*extractionJSON
		TransactionDate *string `json:"transaction_date"`
	}{extractionJSON: (*extractionJSON)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.TransactionDate = nil
	if aux.TransactionDate != nil {
		t, err := time.ParseInLocation(time.DateOnly, *aux.TransactionDate, time.Local)
		if err != nil {
			return err
		}
		r.TransactionDate = &t
	}
	return nil
}

// LineItem is one purchased entry on a receipt, in receipt order.
type LineItem struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   *Money          `json:"unit_price"`
	TotalPrice  Money           `json:"total_price"` // 0.00 when unreadable, never omitted
	Confidence  float64         `json:"confidence"`
	Discounted  bool            `json:"discounted"`
	SKU         string          `json:"sku,omitempty"`

	SuggestedCategoryID string  `json:"suggested_category_id,omitempty"`
	CategoryConfidence  float64 `json:"category_confidence,omitempty"`
}

// ConfidenceSummary holds per-field trust scores in [0,1].
type ConfidenceSummary struct {
	Overall   float64 `json:"overall"`
	LineItems float64 `json:"line_items"`
	Total     float64 `json:"total"`
	Date      float64 `json:"date"`
	Merchant  float64 `json:"merchant"`
}

// Request is what the adapter hands a provider for one image.
type Request struct {
	RequestID string
	Image     []byte // PNG
	Prompt    string
	Schema    map[string]any
}

// Provider sends one image to a vision model and returns the raw JSON text
// it produced. Failures are returned as *ExtractionError.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// UsageGate decides whether a scope may run another extraction.
type UsageGate interface {
	CanProceed(ctx context.Context, scope string) bool
}

// UsageGateFunc adapts a function to UsageGate.
type UsageGateFunc func(ctx context.Context, scope string) bool

// CanProceed calls f.
func (f UsageGateFunc) CanProceed(ctx context.Context, scope string) bool {
	return f(ctx, scope)
}
