package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/receipt-scan/internal/scanning"
)

// HistoryReader loads one scope's expenses dated on or after since. The
// result is treated as an immutable snapshot.
type HistoryReader interface {
	Window(ctx context.Context, scope string, since time.Time) (History, error)
}

// CategorySource lists the categories a scope may assign.
type CategorySource interface {
	Categories(ctx context.Context, scope string) ([]Category, error)
}

// Suggester runs the Engine against freshly loaded history on every call.
type Suggester struct {
	history    HistoryReader
	categories CategorySource
	engine     Engine
	log        *slog.Logger
}

// Option configures a Suggester.
type Option func(*Suggester)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Suggester) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock sets the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(s *Suggester) {
		s.engine.Now = now
	}
}

// NewSuggester creates a Suggester.
func NewSuggester(history HistoryReader, categories CategorySource, opts ...Option) *Suggester {
	s := &Suggester{
		history:    history,
		categories: categories,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Suggester) load(ctx context.Context, scope string) (History, []Category, error) {
	cats, err := s.categories.Categories(ctx, scope)
	if err != nil {
		return History{}, nil, fmt.Errorf("loading categories: %w", err)
	}
	if len(cats) == 0 {
		return History{}, nil, nil
	}
	h, err := s.history.Window(ctx, scope, s.engine.WindowStart())
	if err != nil {
		return History{}, nil, fmt.Errorf("loading history: %w", err)
	}
	return h, cats, nil
}

// SuggestReceipt ranks categories for a whole receipt.
func (s *Suggester) SuggestReceipt(ctx context.Context, scope, merchant string, items []string) ([]Suggestion, error) {
	h, cats, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := s.engine.Suggest(Input{
		Merchant:   merchant,
		LineItems:  items,
		History:    h,
		Categories: cats,
	})
	s.log.Debug("suggest.receipt", "scope", scope, "expenses", len(h.Expenses), "suggestions", len(out))
	return out, nil
}

// AnnotateLineItems sets each line item's suggested category from its top
// suggestion and returns the receipt-level suggestions. Items without a
// suggestion are cleared.
func (s *Suggester) AnnotateLineItems(ctx context.Context, scope string, ext *scanning.ReceiptExtraction) ([]Suggestion, error) {
	if ext == nil {
		return []Suggestion{}, nil
	}
	h, cats, err := s.load(ctx, scope)
	if err != nil {
		return nil, err
	}

	var merchant string
	if ext.MerchantName != nil {
		merchant = *ext.MerchantName
	}

	descriptions := make([]string, 0, len(ext.LineItems))
	for i := range ext.LineItems {
		item := &ext.LineItems[i]
		descriptions = append(descriptions, item.Description)

		item.SuggestedCategoryID = ""
		item.CategoryConfidence = 0
		top := s.engine.Suggest(Input{
			Merchant:   merchant,
			LineItems:  []string{item.Description},
			History:    h,
			Categories: cats,
		})
		if len(top) > 0 {
			item.SuggestedCategoryID = top[0].CategoryID
			item.CategoryConfidence = top[0].Confidence
		}
	}

	out := s.engine.Suggest(Input{
		Merchant:   merchant,
		LineItems:  descriptions,
		History:    h,
		Categories: cats,
	})
	s.log.Debug("suggest.annotate",
		"scope", scope,
		"request_id", ext.RequestID,
		"line_items", len(ext.LineItems),
		"suggestions", len(out),
	)
	return out, nil
}
