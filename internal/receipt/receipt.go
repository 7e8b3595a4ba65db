package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scan/internal/scanning"
	"github.com/zombor/receipt-scan/internal/suggest"
)

// DefaultScope is used when a request does not name one.
const DefaultScope = "default"

// ErrNotFound is wrapped by lookups of missing records.
var ErrNotFound = errors.New("not found")

// ValidateScope rejects scopes that could alias another scope's keys or
// file paths.
func ValidateScope(scope string) error {
	if scope == "" || scope == "." || scope == ".." || strings.ContainsAny(scope, `/\`) {
		return fmt.Errorf("%w: scope %q", ErrInvalidInput, scope)
	}
	return nil
}

// Expense is a confirmed receipt.
type Expense struct {
	ID          string         `json:"id"`
	Scope       string         `json:"scope"`
	Merchant    string         `json:"merchant"`
	Date        time.Time      `json:"date"`
	Amount      scanning.Money `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	CategoryID  string         `json:"category_id,omitempty"`
	LineItems   []LineItem     `json:"line_items"`
	Filename    string         `json:"filename,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	DraftID     string         `json:"draft_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// LineItem is a stored line item with the category the user settled on
// next to the one that was suggested.
type LineItem struct {
	Description         string          `json:"description"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitPrice           *scanning.Money `json:"unit_price"`
	TotalPrice          scanning.Money  `json:"total_price"`
	CategoryID          string          `json:"category_id,omitempty"`
	SuggestedCategoryID string          `json:"suggested_category_id,omitempty"`
	CategoryConfidence  float64         `json:"category_confidence,omitempty"`
}

// Draft is a scanned receipt waiting for the user to confirm it.
type Draft struct {
	ID          string                      `json:"id"`
	Scope       string                      `json:"scope"`
	Extraction  *scanning.ReceiptExtraction `json:"extraction"`
	Suggestions []suggest.Suggestion        `json:"suggestions"`
	// Date is the extraction's date, or today when none was read.
	Date           time.Time `json:"date"`
	DateConfidence float64   `json:"date_confidence"`
	NeedsReview    bool      `json:"needs_review"`
	Filename       string    `json:"filename,omitempty"`
	ContentType    string    `json:"content_type,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Confirmation carries the user's edits when a draft becomes an expense.
// Empty fields keep the draft's values.
type Confirmation struct {
	Merchant   string          `json:"merchant"`
	Date       string          `json:"date"` // YYYY-MM-DD
	Amount     *scanning.Money `json:"amount"`
	Currency   string          `json:"currency"`
	CategoryID string          `json:"category_id"`
	// LineItemCategories overrides the suggested category per line item index.
	LineItemCategories map[int]string `json:"line_item_categories"`
}
