package suggest

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

const (
	merchantWeight  = 0.30
	lineItemWeight  = 0.25
	frequencyWeight = 0.20
	recencyWeight   = 0.15
	temporalWeight  = 0.10

	// MinScore is the exclusive lower bound for a suggestion to be returned.
	MinScore = 0.1
	// MaxConfidence caps the confidence shown to users.
	MaxConfidence = 95.0
	// MaxSuggestions is the number of suggestions returned at most.
	MaxSuggestions = 5

	windowMonths  = 6
	recentDays    = 30
	temporalHours = 2
	minTokenLen   = 3

	factorThreshold    = 0.3
	frequencyThreshold = 0.5
)

// FallbackReason is used when no single factor explains a suggestion.
const FallbackReason = "based on spending patterns"

// Category is a candidate spending category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Expense is one historical expense as seen by the engine. Date may be a
// bare calendar date; RecordedAt, when set, supplies the time of day.
type Expense struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	RecordedAt time.Time `json:"recorded_at,omitempty"`
	Merchant   string    `json:"merchant"`
	CategoryID string    `json:"category_id"`
}

func (e Expense) clock() time.Time {
	if e.RecordedAt.IsZero() {
		return e.Date
	}
	return e.RecordedAt
}

// LineItem is one historical line item. CategoryID is what the user chose
// for it; SuggestedCategoryID and CategoryConfidence (0-95) are what the
// engine proposed when the receipt was scanned.
type LineItem struct {
	ExpenseID           string  `json:"expense_id"`
	Description         string  `json:"description"`
	CategoryID          string  `json:"category_id,omitempty"`
	SuggestedCategoryID string  `json:"suggested_category_id,omitempty"`
	CategoryConfidence  float64 `json:"category_confidence,omitempty"`
}

// History is a read-only snapshot of one scope's expenses.
type History struct {
	Expenses  []Expense
	LineItems []LineItem
}

// Input is everything one suggestion run looks at.
type Input struct {
	Merchant   string
	LineItems  []string // descriptions on the current receipt
	History    History
	Categories []Category
}

// Factors are the normalized [0,1] signals behind a score.
type Factors struct {
	Merchant  float64 `json:"merchant"`
	LineItems float64 `json:"line_items"`
	Frequency float64 `json:"frequency"`
	Recency   float64 `json:"recency"`
	Temporal  float64 `json:"temporal"`
}

// Suggestion is a ranked, explained category guess.
type Suggestion struct {
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Score        float64  `json:"score"`
	Confidence   float64  `json:"confidence"`
	Reasons      []string `json:"reasons"`
	Factors      Factors  `json:"factors"`
}

// Engine scores candidate categories against a trailing window of the
// requester's own expenses. It holds no state between calls.
type Engine struct {
	Now func() time.Time
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// WindowStart is the oldest expense date Suggest considers.
func (e Engine) WindowStart() time.Time {
	return e.now().AddDate(0, -windowMonths, 0)
}

type rawCounts map[string]float64

// Suggest returns at most five suggestions with a score above MinScore,
// best first. Equal scores keep the order of in.Categories.
func (e Engine) Suggest(in Input) []Suggestion {
	out := []Suggestion{}
	if len(in.Categories) == 0 {
		return out
	}

	now := e.now()
	since := now.AddDate(0, -windowMonths, 0)
	recentSince := now.AddDate(0, 0, -recentDays)

	expenses := make(map[string]Expense, len(in.History.Expenses))
	var window []Expense
	for _, exp := range in.History.Expenses {
		if exp.Date.Before(since) {
			continue
		}
		window = append(window, exp)
		expenses[exp.ID] = exp
	}
	if len(window) == 0 {
		return out
	}

	merchant, frequency, recency, temporal := rawCounts{}, rawCounts{}, rawCounts{}, rawCounts{}
	token := merchantToken(in.Merchant)
	for _, exp := range window {
		if exp.CategoryID == "" {
			continue
		}
		frequency[exp.CategoryID]++
		if !exp.Date.Before(recentSince) {
			recency[exp.CategoryID]++
		}
		if sameTimeOfWeek(exp.Date, exp.clock(), now) {
			temporal[exp.CategoryID]++
		}
		if token != "" && strings.Contains(strings.ToLower(exp.Merchant), token) {
			merchant[exp.CategoryID]++
		}
	}
	items := lineItemCounts(in.LineItems, in.History.LineItems, expenses)

	norm := func(c rawCounts) func(string) float64 {
		var top float64
		for _, v := range c {
			top = math.Max(top, v)
		}
		return func(id string) float64 {
			if top <= 0 {
				return 0
			}
			return c[id] / top
		}
	}
	mf, lf, ff, rf, tf := norm(merchant), norm(items), norm(frequency), norm(recency), norm(temporal)

	seen := make(map[string]bool, len(in.Categories))
	for _, cat := range in.Categories {
		if seen[cat.ID] {
			continue
		}
		seen[cat.ID] = true

		f := Factors{
			Merchant:  mf(cat.ID),
			LineItems: lf(cat.ID),
			Frequency: ff(cat.ID),
			Recency:   rf(cat.ID),
			Temporal:  tf(cat.ID),
		}
		score := f.Merchant*merchantWeight +
			f.LineItems*lineItemWeight +
			f.Frequency*frequencyWeight +
			f.Recency*recencyWeight +
			f.Temporal*temporalWeight
		if score <= MinScore {
			continue
		}
		out = append(out, Suggestion{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			Score:        score,
			Confidence:   math.Min(score*100, MaxConfidence),
			Reasons:      reasons(f, in.Merchant),
			Factors:      f,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > MaxSuggestions {
		out = out[:MaxSuggestions]
	}
	return out
}

// lineItemCounts credits a category once per historical item sharing a
// token with any current item, plus the item's own earlier suggestion
// weighted by its confidence.
func lineItemCounts(current []string, history []LineItem, expenses map[string]Expense) rawCounts {
	counts := rawCounts{}
	var want []string
	for _, desc := range current {
		want = append(want, tokens(desc)...)
	}
	if len(want) == 0 {
		return counts
	}

	for _, item := range history {
		exp, ok := expenses[item.ExpenseID]
		if !ok {
			continue
		}
		if !overlaps(want, tokens(item.Description)) {
			continue
		}
		category := item.CategoryID
		if category == "" {
			category = exp.CategoryID
		}
		if category != "" {
			counts[category]++
		}
		if item.SuggestedCategoryID != "" && item.CategoryConfidence > 0 {
			counts[item.SuggestedCategoryID] += item.CategoryConfidence / 100
		}
	}
	return counts
}

func overlaps(want, have []string) bool {
	for _, a := range want {
		for _, b := range have {
			if strings.Contains(a, b) || strings.Contains(b, a) {
				return true
			}
		}
	}
	return false
}

// tokens splits s into lowercase alphanumeric runs of at least three runes.
func tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minTokenLen {
			out = append(out, f)
		}
	}
	return out
}

func merchantToken(merchant string) string {
	fields := strings.Fields(strings.ToLower(merchant))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// sameTimeOfWeek reports whether day falls on now's weekday, or clock
// within two hours of now's time of day.
func sameTimeOfWeek(day, clock, now time.Time) bool {
	if day.In(now.Location()).Weekday() == now.Weekday() {
		return true
	}
	diff := clock.In(now.Location()).Hour() - now.Hour()
	if diff < 0 {
		diff = -diff
	}
	if diff > 12 {
		diff = 24 - diff
	}
	return diff <= temporalHours
}

func reasons(f Factors, merchant string) []string {
	var out []string
	if f.Merchant > factorThreshold {
		out = append(out, fmt.Sprintf("often used at %s", strings.Fields(merchant)[0]))
	}
	if f.LineItems > factorThreshold {
		out = append(out, "similar items bought before")
	}
	if f.Frequency > frequencyThreshold {
		out = append(out, "one of your most used categories")
	}
	if f.Recency > factorThreshold {
		out = append(out, "used recently")
	}
	if f.Temporal > factorThreshold {
		out = append(out, "matches when you usually shop")
	}
	if len(out) == 0 {
		out = append(out, FallbackReason)
	}
	return out
}
