package scanning

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-scan/internal/dates"
)

// mockProvider is a mock implementation of Provider
type mockProvider struct {
	mu       sync.Mutex
	calls    int
	last     Request
	respond  func(ctx context.Context, req Request) ([]byte, error)
	closeErr error
}

func newMockProvider(reply string) *mockProvider {
	return &mockProvider{
		respond: func(context.Context, Request) ([]byte, error) {
			return []byte(reply), nil
		},
	}
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) Generate(ctx context.Context, req Request) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.last = req
	m.mu.Unlock()
	return m.respond(ctx, req)
}

func (m *mockProvider) Close() error {
	return m.closeErr
}

var _ = Describe("Adapter", func() {
	var (
		provider *mockProvider
		gate     UsageGate
		timeout  time.Duration
		units    PriceUnits
		adapter  *Adapter
		upload   []byte
		result   *ReceiptExtraction
		err      error
	)

	BeforeEach(func() {
		provider = newMockProvider(`{}`)
		gate = nil
		timeout = time.Second
		units = UnitsMajor
		upload = testPNG(2, 2)
	})

	JustBeforeEach(func() {
		now := time.Date(2025, 12, 1, 12, 0, 0, 0, time.UTC)
		adapter = NewAdapter(provider,
			WithUsageGate(gate),
			WithTimeout(timeout),
			WithPriceUnits(units),
			WithIDGenerator(func() string { return "req-1" }),
			WithDateCorrector(dates.New(
				dates.WithNow(func() time.Time { return now }),
				dates.WithLocation(time.UTC),
			)),
		)
		result, err = adapter.Extract(context.Background(), "family-1", upload, "image/png")
	})

	When("the provider returns a complete receipt", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{
				"merchant_name": "SUPERMART #42",
				"total_amount": 12.5,
				"transaction_date": "2025-11-08",
				"currency": "EUR",
				"tax_amount": null,
				"subtotal": null,
				"line_items": [
					{"description": "Bread", "quantity": 1, "unit_price": 2.5, "total_price": 2.5, "confidence": 0.9},
					{"description": "Cheese", "quantity": 2, "unit_price": 5, "total_price": 10, "confidence": 0.7}
				],
				"field_confidence": null
			}`)
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should map the fields", func() {
			Expect(*result.MerchantName).To(Equal("Supermart #42"))
			Expect(result.TotalAmount.StringFixed(2)).To(Equal("12.50"))
			Expect(*result.TransactionDate).To(Equal(time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)))
			Expect(*result.Currency).To(Equal("EUR"))
			Expect(result.TaxAmount).To(BeNil())
			Expect(result.LineItems).To(HaveLen(2))
			Expect(result.Partial).To(BeFalse())
		})

		It("should score the fields heuristically", func() {
			Expect(result.Confidence.Merchant).To(Equal(0.9))
			Expect(result.Confidence.Total).To(Equal(0.95))
			Expect(result.Confidence.Date).To(Equal(0.85))
			Expect(result.Confidence.Overall).To(BeNumerically("~", 0.9, 0.0001))
			Expect(result.Confidence.LineItems).To(BeNumerically("~", 0.8, 0.0001))
			Expect(result.ExtractionConfidence).To(BeNumerically("~", 0.875, 0.0001))
		})

		It("should record the request metadata", func() {
			Expect(result.RequestID).To(Equal("req-1"))
			Expect(result.Provider).To(Equal("mock"))
			Expect(string(result.RawProviderPayload)).To(ContainSubstring("SUPERMART"))
		})

		It("should send the prompt and schema", func() {
			Expect(provider.last.Prompt).To(ContainSubstring("total_amount"))
			Expect(provider.last.Schema).To(HaveKey("properties"))
			Expect(provider.last.Image).To(Equal(upload))
		})
	})

	When("the provider reports a zero total with line items", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{
				"merchant_name": "Big Store",
				"total_amount": 0,
				"transaction_date": "2025-11-20",
				"line_items": [
					{"description": "A", "total_price": 1.10},
					{"description": "B", "total_price": 2.20},
					{"description": "C", "total_price": 3.30}
				]
			}`)
		})

		It("should pass the zero through as a partial scan", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalAmount).NotTo(BeNil())
			Expect(result.TotalAmount.IsZero()).To(BeTrue())
			Expect(result.LineItems).To(HaveLen(3))
			Expect(result.Partial).To(BeTrue())
		})
	})

	When("every price is a whole number", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{
				"total_amount": 175,
				"line_items": [
					{"description": "Chair", "total_price": 150},
					{"description": "Cushion", "total_price": 25}
				]
			}`)
		})

		It("should read the items and the total in the same major units", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalAmount.StringFixed(2)).To(Equal("175.00"))
			Expect(result.LineItems[0].TotalPrice.StringFixed(2)).To(Equal("150.00"))
			Expect(result.LineItems[1].TotalPrice.StringFixed(2)).To(Equal("25.00"))
		})
	})

	When("the provider writes prices in minor units", func() {
		BeforeEach(func() {
			units = UnitsMinor
			provider = newMockProvider(`{
				"total_amount": 1750,
				"tax_amount": 150,
				"line_items": [{"description": "Chair", "total_price": 1750}]
			}`)
		})

		It("should convert the totals and the items once", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TotalAmount.StringFixed(2)).To(Equal("17.50"))
			Expect(result.TaxAmount.StringFixed(2)).To(Equal("1.50"))
			Expect(result.LineItems[0].TotalPrice.StringFixed(2)).To(Equal("17.50"))
		})
	})

	When("the provider returns an empty object", func() {
		It("should degrade to nulls", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.MerchantName).To(BeNil())
			Expect(result.TotalAmount).To(BeNil())
			Expect(result.TransactionDate).To(BeNil())
			Expect(result.LineItems).To(BeEmpty())
			Expect(result.Confidence.Overall).To(Equal(0.0))
			Expect(result.ExtractionConfidence).To(Equal(0.5))
		})
	})

	When("the provider gives explicit confidences", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{
				"merchant_name": "Cafe",
				"total_amount": 4,
				"transaction_date": "2025-11-30",
				"field_confidence": {"merchant": 0.6, "total": 0.7, "date": 0.99}
			}`)
		})

		It("should prefer them, capping the date by validation", func() {
			Expect(result.Confidence.Merchant).To(Equal(0.6))
			Expect(result.Confidence.Total).To(Equal(0.7))
			Expect(result.Confidence.Date).To(Equal(0.9))
		})
	})

	When("the provider date cannot be read", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{"merchant_name": "Cafe", "transaction_date": "sometime last week", "field_confidence": {"date": 0.9}}`)
		})

		It("should keep the raw value instead of guessing a date", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.TransactionDate).To(BeNil())
			Expect(*result.RawTransactionDate).To(Equal("sometime last week"))
			Expect(result.Confidence.Date).To(BeNumerically("<=", 0.1))
			Expect(result.DateIssues).NotTo(BeEmpty())
		})

		It("should not count the date as found", func() {
			Expect(result.ExtractionConfidence).To(Equal(0.9))
		})
	})

	When("the date lands in the future", func() {
		BeforeEach(func() {
			provider = newMockProvider(`{"transaction_date": "2025-12-11"}`)
		})

		It("should reinterpret it as day/month", func() {
			Expect(*result.TransactionDate).To(Equal(time.Date(2025, 11, 12, 0, 0, 0, 0, time.UTC)))
			Expect(result.DateIssues).To(ContainElement("reinterpreted future date as day/month"))
		})
	})

	When("the provider is rate limited", func() {
		BeforeEach(func() {
			provider.respond = func(context.Context, Request) ([]byte, error) {
				return nil, statusError("mock", 429, []byte(`{"error":"slow down"}`))
			}
		})

		It("should return a rate limited error with the status", func() {
			Expect(IsKind(err, KindRateLimited)).To(BeTrue())
			var ee *ExtractionError
			Expect(errors.As(err, &ee)).To(BeTrue())
			Expect(ee.Status).To(Equal(429))
			Expect(ee.Body).To(ContainSubstring("slow down"))
			Expect(result).To(BeNil())
		})
	})

	When("the provider fails with a plain error", func() {
		BeforeEach(func() {
			provider.respond = func(context.Context, Request) ([]byte, error) {
				return nil, errors.New("connection reset")
			}
		})

		It("should return a provider error", func() {
			Expect(KindOf(err)).To(Equal(KindProvider))
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
		})
	})

	When("the provider does not answer in time", func() {
		BeforeEach(func() {
			timeout = 20 * time.Millisecond
			provider.respond = func(ctx context.Context, _ Request) ([]byte, error) {
				<-ctx.Done()
				return nil, malformedError("mock", nil, ctx.Err())
			}
		})

		It("should return a provider error", func() {
			Expect(KindOf(err)).To(Equal(KindProvider))
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})
	})

	When("the reply is not JSON", func() {
		BeforeEach(func() {
			provider = newMockProvider("Sorry, I can't help with that.")
		})

		It("should return a malformed response error with the body", func() {
			Expect(KindOf(err)).To(Equal(KindMalformedResponse))
			var ee *ExtractionError
			Expect(errors.As(err, &ee)).To(BeTrue())
			Expect(ee.Body).To(Equal("Sorry, I can't help with that."))
		})
	})

	When("the usage gate refuses", func() {
		BeforeEach(func() {
			gate = UsageGateFunc(func(_ context.Context, scope string) bool {
				return scope != "family-1"
			})
		})

		It("should return quota exceeded without calling the provider", func() {
			Expect(KindOf(err)).To(Equal(KindQuotaExceeded))
			Expect(err).To(MatchError(ErrUsageDenied))
			Expect(provider.calls).To(Equal(0))
		})
	})

	When("the upload is not an image", func() {
		BeforeEach(func() {
			upload = []byte("plain text")
		})

		It("should return a tagged unsupported image error", func() {
			Expect(err).To(MatchError(ErrUnsupportedImage))
			Expect(KindOf(err)).To(Equal(KindUnsupportedImage))
			var ee *ExtractionError
			Expect(errors.As(err, &ee)).To(BeTrue())
			Expect(ee.Status).To(Equal(415))
			Expect(provider.calls).To(Equal(0))
		})
	})
})

var _ = Describe("Adapter without a provider", func() {
	It("should return a configuration error", func() {
		_, err := NewAdapter(nil).Extract(context.Background(), "", testPNG(1, 1), "image/png")
		Expect(KindOf(err)).To(Equal(KindConfiguration))
		Expect(err).To(MatchError(ErrMissingCredential))
	})
})

var _ = Describe("Adapter.ExtractPages", func() {
	It("should return one result per page in order", func() {
		provider := &mockProvider{
			respond: func(_ context.Context, req Request) ([]byte, error) {
				cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Image))
				if err != nil {
					return nil, err
				}
				switch cfg.Width {
				case 1:
					return []byte(`{"merchant_name": "Page One", "total_amount": 0, "line_items": [{"description": "x", "total_price": 1}]}`), nil
				case 2:
					return nil, statusError("mock", 503, nil)
				default:
					return []byte(`{"merchant_name": "Page Three", "total_amount": 9.99}`), nil
				}
			},
		}
		adapter := NewAdapter(provider)

		results := adapter.ExtractPages(context.Background(), "family-1", []Page{
			{Image: testPNG(1, 1), ContentType: "image/png"},
			{Image: testPNG(2, 2), ContentType: "image/png"},
			{Image: testPNG(3, 3), ContentType: "image/png"},
		})

		Expect(results).To(HaveLen(3))
		Expect(results[0].Index).To(Equal(0))
		Expect(*results[0].Extraction.MerchantName).To(Equal("Page One"))
		Expect(results[0].Extraction.Partial).To(BeTrue())
		Expect(KindOf(results[1].Err)).To(Equal(KindProvider))
		Expect(results[1].Extraction).To(BeNil())
		Expect(*results[2].Extraction.MerchantName).To(Equal("Page Three"))
		Expect(provider.calls).To(Equal(3))
	})
})
