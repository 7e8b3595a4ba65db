package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scan/internal/dates"
	"github.com/zombor/receipt-scan/internal/scanning"
	"github.com/zombor/receipt-scan/internal/suggest"
)

// ErrInvalidInput is wrapped when a request cannot be applied as given.
var ErrInvalidInput = errors.New("invalid input")

// ReviewThreshold is the field confidence below which a draft is flagged.
const ReviewThreshold = 0.7

// IDGenerator generates unique IDs for drafts, expenses and categories
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Extractor reads a receipt image. *scanning.Adapter implements it.
type Extractor interface {
	Extract(ctx context.Context, scope string, image []byte, contentType string) (*scanning.ReceiptExtraction, error)
}

// Suggester proposes categories. *suggest.Suggester implements it.
type Suggester interface {
	AnnotateLineItems(ctx context.Context, scope string, ext *scanning.ReceiptExtraction) ([]suggest.Suggestion, error)
	SuggestReceipt(ctx context.Context, scope, merchant string, items []string) ([]suggest.Suggestion, error)
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt operations
type Service struct {
	db          DB
	extractor   Extractor
	suggester   Suggester
	storage     Storage
	dates       *dates.Corrector
	idGenerator IDGenerator
	timeSource  TimeSource
	log         *slog.Logger
}

// NewService creates a new Service with default ID generator and time source
func NewService(db DB, extractor Extractor, suggester Suggester, storage Storage) *Service {
	return NewServiceWithDeps(db, extractor, suggester, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor Extractor, suggester Suggester, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		extractor:   extractor,
		suggester:   suggester,
		storage:     storage,
		dates:       dates.New(dates.WithNow(timeSrc.Now)),
		idGenerator: idGen,
		timeSource:  timeSrc,
		log:         slog.Default(),
	}
}

// WithLogger replaces the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.log = l
	}
	return s
}

var (
	filenameSpecial = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	filenameSpaces  = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = filenameSpecial.ReplaceAllString(base, "")
	base = filenameSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// 50 chars for the base, plus extension
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

// ScanReceipt stores an upload, extracts it, suggests categories and
// saves the result as a draft for the user to confirm.
func (s *Service) ScanReceipt(ctx context.Context, scope, filename string, data []byte, contentType string) (*Draft, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(scope, fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	ext, err := s.extractor.Extract(ctx, scope, data, contentType)
	if err != nil {
		s.log.Error("receipt.scan.error",
			"scope", scope,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"kind", scanning.KindOf(err),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	suggestions, err := s.suggester.AnnotateLineItems(ctx, scope, ext)
	if err != nil {
		s.log.Warn("receipt.suggest.error", "scope", scope, "request_id", ext.RequestID, "error", err)
		suggestions = []suggest.Suggestion{}
	}

	draft := &Draft{
		ID:          id,
		Scope:       scope,
		Extraction:  ext,
		Suggestions: suggestions,
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   now,
	}
	if ext.TransactionDate != nil {
		draft.Date = *ext.TransactionDate
		draft.DateConfidence = ext.Confidence.Date
	} else {
		fallback := s.dates.Validate("")
		draft.Date = fallback.Date
		draft.DateConfidence = fallback.Confidence
		if ext.RawTransactionDate != nil {
			draft.DateConfidence = math.Min(draft.DateConfidence, ext.Confidence.Date)
		}
	}
	draft.NeedsReview = ext.Confidence.NeedsReview(ReviewThreshold) ||
		ext.Partial ||
		ext.TotalAmount == nil ||
		draft.DateConfidence < ReviewThreshold

	if err := s.db.SaveDraft(draft); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving draft: %w", err)
	}

	s.log.Info("receipt.scan.ok",
		"scope", scope,
		"draft_id", id,
		"request_id", ext.RequestID,
		"line_items", len(ext.LineItems),
		"needs_review", draft.NeedsReview,
	)
	return draft, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		s.log.Warn("receipt.file.delete_error", "filename", path, "error", err)
	}
}

// GetDraft retrieves a draft by ID
func (s *Service) GetDraft(scope, id string) (*Draft, error) {
	draft, err := s.db.GetDraft(scope, id)
	if err != nil {
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	return draft, nil
}

// ConfirmDraft turns a draft into an expense, applying the user's edits.
// Categories left unset fall back to the suggestions.
func (s *Service) ConfirmDraft(ctx context.Context, scope, id string, c Confirmation) (*Expense, error) {
	draft, err := s.db.GetDraft(scope, id)
	if err != nil {
		return nil, fmt.Errorf("getting draft: %w", err)
	}
	ext := draft.Extraction
	if ext == nil {
		ext = &scanning.ReceiptExtraction{}
	}

	categories, err := s.db.ListCategories(scope)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	known := make(map[string]bool, len(categories))
	for _, cat := range categories {
		known[cat.ID] = true
	}
	checkCategory := func(id string) error {
		if id != "" && !known[id] {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, id)
		}
		return nil
	}

	now := s.timeSource.Now()
	expense := &Expense{
		ID:          s.idGenerator.Generate(),
		Scope:       scope,
		Merchant:    strings.TrimSpace(c.Merchant),
		Date:        draft.Date,
		Currency:    strings.ToUpper(strings.TrimSpace(c.Currency)),
		CategoryID:  c.CategoryID,
		Filename:    draft.Filename,
		ContentType: draft.ContentType,
		DraftID:     draft.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if expense.Merchant == "" && ext.MerchantName != nil {
		expense.Merchant = *ext.MerchantName
	}
	if expense.Currency == "" && ext.Currency != nil {
		expense.Currency = *ext.Currency
	}
	if c.Date != "" {
		d, err := time.ParseInLocation(time.DateOnly, c.Date, time.Local)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrInvalidInput, c.Date)
		}
		expense.Date = d
	}
	if expense.CategoryID == "" && len(draft.Suggestions) > 0 {
		expense.CategoryID = draft.Suggestions[0].CategoryID
	}
	if err := checkCategory(expense.CategoryID); err != nil {
		return nil, err
	}

	sum := scanning.NewMoney(decimal.Zero)
	for i, item := range ext.LineItems {
		li := LineItem{
			Description:         item.Description,
			Quantity:            item.Quantity,
			UnitPrice:           item.UnitPrice,
			TotalPrice:          item.TotalPrice,
			CategoryID:          item.SuggestedCategoryID,
			SuggestedCategoryID: item.SuggestedCategoryID,
			CategoryConfidence:  item.CategoryConfidence,
		}
		if override, ok := c.LineItemCategories[i]; ok {
			if err := checkCategory(override); err != nil {
				return nil, err
			}
			li.CategoryID = override
		}
		expense.LineItems = append(expense.LineItems, li)
		sum = scanning.NewMoney(sum.Add(item.TotalPrice.Decimal))
	}
	if expense.LineItems == nil {
		expense.LineItems = []LineItem{}
	}

	switch {
	case c.Amount != nil:
		expense.Amount = *c.Amount
	case ext.TotalAmount != nil && !ext.TotalAmount.IsZero():
		expense.Amount = *ext.TotalAmount
	default:
		// no grand total was read; fall back to the line items
		expense.Amount = sum
	}
	if expense.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}

	if err := s.db.SaveExpense(expense); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	if err := s.db.DeleteDraft(scope, id); err != nil {
		s.log.Warn("receipt.draft.delete_error", "scope", scope, "draft_id", id, "error", err)
	}

	s.log.Info("receipt.confirm.ok", "scope", scope, "draft_id", id, "expense_id", expense.ID)
	return expense, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(scope, id string) (*Expense, error) {
	expense, err := s.db.GetExpense(scope, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all expenses in scope
func (s *Service) ListExpenses(scope string) ([]*Expense, error) {
	expenses, err := s.db.ListExpenses(scope)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// DeleteExpense removes an expense and its file
func (s *Service) DeleteExpense(scope, id string) error {
	expense, err := s.db.GetExpense(scope, id)
	if err != nil {
		return fmt.Errorf("getting expense for deletion: %w", err)
	}

	if expense.Filename != "" {
		// log error but continue with database deletion
		s.removeFile(expense.Filename)
	}

	if err := s.db.DeleteExpense(scope, id); err != nil {
		return fmt.Errorf("deleting expense from database: %w", err)
	}
	return nil
}

// GetExpenseFile retrieves the receipt image for an expense
func (s *Service) GetExpenseFile(scope, id string) ([]byte, string, error) {
	expense, err := s.db.GetExpense(scope, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense: %w", err)
	}
	if expense.Filename == "" {
		return nil, "", fmt.Errorf("expense %s has no file: %w", id, ErrNotFound)
	}

	data, err := s.storage.Get(expense.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting expense file: %w", err)
	}
	return data, expense.ContentType, nil
}

// SaveCategory creates a category, generating an ID when none is given.
func (s *Service) SaveCategory(scope string, c suggest.Category) (suggest.Category, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, fmt.Errorf("%w: category name is required", ErrInvalidInput)
	}
	if c.ID == "" {
		c.ID = s.idGenerator.Generate()
	}
	if err := s.db.SaveCategory(scope, c); err != nil {
		return c, fmt.Errorf("saving category: %w", err)
	}
	return c, nil
}

// ListCategories returns the scope's categories
func (s *Service) ListCategories(scope string) ([]suggest.Category, error) {
	categories, err := s.db.ListCategories(scope)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return categories, nil
}

// Suggest ranks categories for a merchant and line item descriptions.
func (s *Service) Suggest(ctx context.Context, scope, merchant string, items []string) ([]suggest.Suggestion, error) {
	out, err := s.suggester.SuggestReceipt(ctx, scope, merchant, items)
	if err != nil {
		return nil, fmt.Errorf("suggesting categories: %w", err)
	}
	return out, nil
}
