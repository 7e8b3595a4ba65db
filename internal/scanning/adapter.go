package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-scan/internal/dates"
)

const (
	defaultTimeout   = 60 * time.Second
	pageConcurrency  = 4
	defaultGateScope = "default"
)

// Adapter turns receipt images into ReceiptExtractions through a Provider.
// It never panics and every failure it returns is an *ExtractionError.
type Adapter struct {
	provider   Provider
	gate       UsageGate
	dates      *dates.Corrector
	normalizer Normalizer
	timeout    time.Duration
	log        *slog.Logger
	newID      func() string
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// WithUsageGate installs the precondition checked before each provider call.
func WithUsageGate(g UsageGate) AdapterOption {
	return func(a *Adapter) {
		a.gate = g
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithDateCorrector replaces the date corrector.
func WithDateCorrector(c *dates.Corrector) AdapterOption {
	return func(a *Adapter) {
		if c != nil {
			a.dates = c
		}
	}
}

// WithNormalizer replaces the line item normalizer.
func WithNormalizer(n Normalizer) AdapterOption {
	return func(a *Adapter) {
		a.normalizer = n
	}
}

// WithPriceUnits sets how the provider writes prices.
func WithPriceUnits(u PriceUnits) AdapterOption {
	return func(a *Adapter) {
		a.normalizer.Units = u
	}
}

// WithIDGenerator replaces the request id generator.
func WithIDGenerator(fn func() string) AdapterOption {
	return func(a *Adapter) {
		if fn != nil {
			a.newID = fn
		}
	}
}

// NewAdapter creates an Adapter for provider.
func NewAdapter(provider Provider, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		provider: provider,
		dates:    dates.New(),
		timeout:  defaultTimeout,
		log:      slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Extract reads one receipt image for scope.
func (a *Adapter) Extract(ctx context.Context, scope string, image []byte, contentType string) (*ReceiptExtraction, error) {
	rid := a.newID()
	start := time.Now()
	name := "none"
	if a.provider != nil {
		name = a.provider.Name()
	}
	if scope == "" {
		scope = defaultGateScope
	}

	a.log.Info("scan.extract.start",
		"req_id", rid,
		"provider", name,
		"scope", scope,
		"content_type", contentType,
		"bytes", len(image),
	)

	if a.provider == nil {
		return nil, a.fail(rid, start, configurationError(name))
	}
	if a.gate != nil && !a.gate.CanProceed(ctx, scope) {
		return nil, a.fail(rid, start, &ExtractionError{
			Kind:     KindQuotaExceeded,
			Provider: name,
			Status:   http.StatusPaymentRequired,
			Err:      ErrUsageDenied,
		})
	}

	png, err := prepareImage(image, contentType)
	if err != nil {
		return nil, a.fail(rid, start, imageError(name, fmt.Errorf("preparing image: %w", err)))
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.provider.Generate(callCtx, Request{
		RequestID: rid,
		Image:     png,
		Prompt:    extractionPrompt,
		Schema:    OutputSchema(),
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, a.fail(rid, start, transportError(name, callCtx.Err()))
		}
		var ee *ExtractionError
		if !errors.As(err, &ee) {
			ee = transportError(name, err)
		}
		return nil, a.fail(rid, start, ee)
	}

	p, err := parsePayload(raw)
	if err != nil {
		return nil, a.fail(rid, start, malformedError(name, raw, err))
	}

	out := a.build(p)
	out.Provider = name
	out.RequestID = rid
	out.RawProviderPayload = raw

	a.log.Info("scan.extract.ok",
		"req_id", rid,
		"merchant", deref(out.MerchantName),
		"line_items", len(out.LineItems),
		"partial", out.Partial,
		"overall", out.Confidence.Overall,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (a *Adapter) fail(rid string, start time.Time, ee *ExtractionError) *ExtractionError {
	a.log.Error("scan.extract.error",
		"req_id", rid,
		"provider", ee.Provider,
		"kind", string(ee.Kind),
		"status", ee.Status,
		"error", ee.Err,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return ee
}

// build maps a parsed payload onto a ReceiptExtraction and scores it.
func (a *Adapter) build(p *payload) *ReceiptExtraction {
	minor := a.normalizer.Minor(p.LineItems)
	money := func(d *decimal.Decimal) *Money {
		if d == nil {
			return nil
		}
		m := NewMoney(a.normalizer.Amount(*d, minor))
		return &m
	}

	out := &ReceiptExtraction{
		MerchantName: cleanMerchant(p.MerchantName),
		Currency:     p.Currency,
		TaxAmount:    money(p.TaxAmount),
		Subtotal:     money(p.Subtotal),
		TotalAmount:  money(p.TotalAmount),
		LineItems:    a.normalizer.Normalize(p.LineItems),
	}

	var dateScore *float64
	if p.TransactionDate != "" {
		res := a.dates.Resolve(p.TransactionDate)
		if res.Date.IsZero() {
			out.RawTransactionDate = &res.Raw
		} else {
			out.TransactionDate = &res.Date
		}
		out.DateIssues = res.Issues
		score := heuristicDate
		if p.DateConfidence != nil {
			score = *p.DateConfidence
		}
		dateScore = ptr(math.Min(score, res.Confidence))
	}

	out.Partial = out.TotalAmount != nil && out.TotalAmount.IsZero() && len(out.LineItems) > 0

	var merchantScore, totalScore *float64
	if out.MerchantName != nil {
		merchantScore = ptr(explicitOr(p.MerchantConfidence, heuristicMerchant))
	}
	if out.TotalAmount != nil {
		totalScore = ptr(explicitOr(p.TotalConfidence, heuristicTotal))
	}

	itemScores := make([]float64, len(out.LineItems))
	for i, item := range out.LineItems {
		itemScores[i] = item.Confidence
	}

	out.ExtractionConfidence = heuristicConfidence(out.MerchantName != nil, out.TotalAmount != nil, out.TransactionDate != nil, len(out.LineItems))
	out.Confidence = Aggregate(Fields{
		Merchant:  merchantScore,
		Total:     totalScore,
		Date:      dateScore,
		LineItems: itemScores,
	})
	return out
}

// Page is one image of a multi-page receipt.
type Page struct {
	Image       []byte
	ContentType string
}

// PageResult is the outcome for the page at Index.
type PageResult struct {
	Index      int
	Extraction *ReceiptExtraction
	Err        error
}

// ExtractPages reads pages concurrently and independently. Results are in
// page order; no merging is attempted.
func (a *Adapter) ExtractPages(ctx context.Context, scope string, pages []Page) []PageResult {
	results := make([]PageResult, len(pages))
	var g errgroup.Group
	g.SetLimit(pageConcurrency)
	for i, page := range pages {
		g.Go(func() error {
			ex, err := a.Extract(ctx, scope, page.Image, page.ContentType)
			results[i] = PageResult{Index: i, Extraction: ex, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Close releases the provider.
func (a *Adapter) Close() error {
	if a.provider == nil {
		return nil
	}
	return a.provider.Close()
}

func explicitOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
