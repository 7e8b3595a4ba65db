package receipt

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-scan/internal/scanning"
	"github.com/zombor/receipt-scan/internal/suggest"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	newExpense := func(scope, id string, date time.Time) *Expense {
		return &Expense{
			ID:         id,
			Scope:      scope,
			Merchant:   "Supermart",
			Date:       date,
			Amount:     scanning.MoneyFromString("25.99"),
			Currency:   "EUR",
			CategoryID: "groceries",
			LineItems: []LineItem{
				{Description: "Milk", Quantity: decimal.NewFromInt(1), TotalPrice: scanning.MoneyFromString("1.99"), CategoryID: "groceries", SuggestedCategoryID: "dairy", CategoryConfidence: 64},
			},
			Filename:    scope + "/" + id + ".jpg",
			ContentType: "image/jpeg",
		}
	}

	Describe("SaveExpense", func() {
		var (
			expense *Expense
			err     error
		)

		BeforeEach(func() {
			expense = newExpense("family-1", "test-id", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveExpense(expense)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round trip the amount and line items", func() {
				saved, getErr := db.GetExpense("family-1", "test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Amount.StringFixed(2)).To(Equal("25.99"))
				Expect(saved.LineItems).To(HaveLen(1))
				Expect(saved.LineItems[0].SuggestedCategoryID).To(Equal("dairy"))
			})
		})
	})

	Describe("GetExpense", func() {
		var (
			expenseID string
			expense   *Expense
			err       error
		)

		BeforeEach(func() {
			Expect(db.SaveExpense(newExpense("family-1", "existing", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)))).To(Succeed())
		})

		JustBeforeEach(func() {
			expense, err = db.GetExpense("family-1", expenseID)
		})

		When("expense exists", func() {
			BeforeEach(func() {
				expenseID = "existing"
			})

			It("should return the expense", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(expense.Merchant).To(Equal("Supermart"))
			})
		})

		When("expense does not exist", func() {
			BeforeEach(func() {
				expenseID = "missing"
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(expense).To(BeNil())
			})
		})

		When("the expense belongs to another scope", func() {
			It("should return ErrNotFound", func() {
				_, err := db.GetExpense("family-2", "existing")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("ListExpenses", func() {
		BeforeEach(func() {
			Expect(db.SaveExpense(newExpense("family-1", "a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-1", "b", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-1", "c", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-10", "d", time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))).To(Succeed())
		})

		It("should return the scope's expenses newest first", func() {
			expenses, err := db.ListExpenses("family-1")
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, e := range expenses {
				ids = append(ids, e.ID)
			}
			Expect(ids).To(Equal([]string{"b", "c", "a"}))
		})

		It("should return an empty list for an unknown scope", func() {
			expenses, err := db.ListExpenses("nobody")
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(BeEmpty())
			Expect(expenses).NotTo(BeNil())
		})
	})

	Describe("scope isolation", func() {
		It("should refuse scopes that contain a separator", func() {
			Expect(db.SaveExpense(newExpense("fam/other", "x", time.Now()))).To(MatchError(ErrInvalidInput))
			Expect(db.SaveDraft(&Draft{ID: "d1", Scope: "fam/other"})).To(MatchError(ErrInvalidInput))
			Expect(db.SaveCategory("fam/other", suggest.Category{ID: "c1", Name: "C"})).To(MatchError(ErrInvalidInput))

			list, err := db.ListExpenses("fam")
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(BeEmpty())
		})

		It("should refuse to read a scope that contains a separator", func() {
			_, err := db.ListExpenses("fam/")
			Expect(err).To(MatchError(ErrInvalidInput))
			_, err = db.Window(context.Background(), "fam/other", time.Time{})
			Expect(err).To(MatchError(ErrInvalidInput))
		})
	})

	Describe("DeleteExpense", func() {
		It("should remove the expense", func() {
			Expect(db.SaveExpense(newExpense("family-1", "gone", time.Now()))).To(Succeed())
			Expect(db.DeleteExpense("family-1", "gone")).To(Succeed())
			_, err := db.GetExpense("family-1", "gone")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("drafts", func() {
		It("should save, get and delete a draft", func() {
			merchant := "Pharmacy"
			draft := &Draft{
				ID:    "d1",
				Scope: "family-1",
				Extraction: &scanning.ReceiptExtraction{
					MerchantName: &merchant,
					Confidence:   scanning.ConfidenceSummary{Overall: 0.5},
				},
				Suggestions: []suggest.Suggestion{{CategoryID: "health", Confidence: 80}},
				NeedsReview: true,
			}
			Expect(db.SaveDraft(draft)).To(Succeed())

			saved, err := db.GetDraft("family-1", "d1")
			Expect(err).NotTo(HaveOccurred())
			Expect(*saved.Extraction.MerchantName).To(Equal("Pharmacy"))
			Expect(saved.Suggestions[0].CategoryID).To(Equal("health"))
			Expect(saved.NeedsReview).To(BeTrue())

			Expect(db.DeleteDraft("family-1", "d1")).To(Succeed())
			_, err = db.GetDraft("family-1", "d1")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("categories", func() {
		BeforeEach(func() {
			Expect(db.SaveCategory("family-1", suggest.Category{ID: "groceries", Name: "Groceries"})).To(Succeed())
			Expect(db.SaveCategory("family-1", suggest.Category{ID: "dining", Name: "Dining"})).To(Succeed())
			Expect(db.SaveCategory("family-2", suggest.Category{ID: "travel", Name: "Travel"})).To(Succeed())
		})

		It("should list the scope's categories by ID", func() {
			categories, err := db.Categories(context.Background(), "family-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(Equal([]suggest.Category{
				{ID: "dining", Name: "Dining"},
				{ID: "groceries", Name: "Groceries"},
			}))
		})

		It("should rename an existing category", func() {
			Expect(db.SaveCategory("family-1", suggest.Category{ID: "dining", Name: "Restaurants"})).To(Succeed())
			categories, err := db.ListCategories("family-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(categories).To(ContainElement(suggest.Category{ID: "dining", Name: "Restaurants"}))
			Expect(categories).To(HaveLen(2))
		})
	})

	Describe("Window", func() {
		since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		BeforeEach(func() {
			Expect(db.SaveExpense(newExpense("family-1", "old", since.AddDate(0, 0, -1)))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-1", "edge", since))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-1", "new", since.AddDate(0, 2, 0)))).To(Succeed())
			Expect(db.SaveExpense(newExpense("family-2", "other", since.AddDate(0, 2, 0)))).To(Succeed())
		})

		It("should return expenses on or after since in the scope", func() {
			h, err := db.Window(context.Background(), "family-1", since)
			Expect(err).NotTo(HaveOccurred())
			ids := []string{}
			for _, e := range h.Expenses {
				ids = append(ids, e.ID)
			}
			Expect(ids).To(ConsistOf("edge", "new"))
		})

		It("should carry when each expense was recorded", func() {
			recorded := newExpense("family-1", "timed", since.AddDate(0, 1, 0))
			recorded.CreatedAt = since.AddDate(0, 1, 0).Add(14 * time.Hour)
			Expect(db.SaveExpense(recorded)).To(Succeed())

			h, err := db.Window(context.Background(), "family-1", since)
			Expect(err).NotTo(HaveOccurred())
			var found bool
			for _, e := range h.Expenses {
				if e.ID == "timed" {
					found = true
					Expect(e.RecordedAt).To(BeTemporally("==", recorded.CreatedAt))
				}
			}
			Expect(found).To(BeTrue())
		})

		It("should carry line items with their stored suggestions", func() {
			h, err := db.Window(context.Background(), "family-1", since)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.LineItems).To(HaveLen(2))
			Expect(h.LineItems[0].Description).To(Equal("Milk"))
			Expect(h.LineItems[0].CategoryID).To(Equal("groceries"))
			Expect(h.LineItems[0].SuggestedCategoryID).To(Equal("dairy"))
			Expect(h.LineItems[0].CategoryConfidence).To(Equal(64.0))
		})
	})
})

var _ = Describe("ValidateScope", func() {
	DescribeTable("scopes",
		func(scope string, valid bool) {
			err := ValidateScope(scope)
			if valid {
				Expect(err).NotTo(HaveOccurred())
			} else {
				Expect(err).To(MatchError(ErrInvalidInput))
			}
		},
		Entry("plain", "family-1", true),
		Entry("dotted", "family.one", true),
		Entry("empty", "", false),
		Entry("dot", ".", false),
		Entry("parent", "..", false),
		Entry("slash", "fam/other", false),
		Entry("backslash", `fam\other`, false),
	)
})
