// Package dates repairs and scores receipt dates.
//
// Two paths are offered. Correct handles free OCR text such as "O8-ll-25"
// and always returns a best-effort result. Validate handles a provider's
// typed date field (ISO formatted) and parses it as a calendar date in the
// configured location.
package dates

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	baseConfidence       = 0.95
	correctionPenalty    = 0.05
	minCorrectedScore    = 0.75
	failedConfidence     = 0.1
	staleFactor          = 0.7
	farFutureFactor      = 0.6
	fieldConfidence      = 0.9
	defaultedConfidence  = 0.2
	suspiciousConfidence = 0.5
)

// Layout is the canonical output layout of Correct.
const Layout = "02/01/2006"

// Result is the outcome of correcting one OCR date string.
type Result struct {
	Corrected    string    `json:"corrected_date"`
	Date         time.Time `json:"-"`
	Confidence   float64   `json:"confidence"`
	WasCorrected bool      `json:"was_corrected"`
	Issues       []string  `json:"issues"`
}

// Parsed reports whether Date holds a real date.
func (r Result) Parsed() bool {
	return !r.Date.IsZero()
}

// FieldResult is the outcome of validating a provider's typed date field.
// A present but unreadable field leaves Date zero and keeps the input in
// Raw.
type FieldResult struct {
	Date       time.Time
	Raw        string
	Confidence float64
	Issues     []string
	Defaulted  bool
	Future     bool
	Stale      bool
}

// Corrector runs the correction chain. The zero value is not usable; use New.
type Corrector struct {
	now        func() time.Time
	loc        *time.Location
	transforms []Transform
}

// Option configures a Corrector.
type Option func(*Corrector)

// WithNow sets the clock used for plausibility checks.
func WithNow(now func() time.Time) Option {
	return func(c *Corrector) {
		c.now = now
	}
}

// WithLocation sets the calendar location dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(c *Corrector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithTransforms appends extra steps after the built-in ones.
func WithTransforms(t ...Transform) Option {
	return func(c *Corrector) {
		c.transforms = append(c.transforms, t...)
	}
}

// New creates a Corrector with the default correction chain.
func New(opts ...Option) *Corrector {
	c := &Corrector{
		now:        time.Now,
		loc:        time.Local,
		transforms: DefaultTransforms(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Today returns midnight of the current day in the corrector's location.
func (c *Corrector) Today() time.Time {
	n := c.now().In(c.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, c.loc)
}

// Correct repairs a raw OCR date string. It never fails: an unparseable
// input comes back untouched with a confidence of 0.1.
func (c *Corrector) Correct(raw string) Result {
	s := strings.TrimSpace(raw)
	var issues []string
	for _, t := range c.transforms {
		next := t.Apply(s)
		if next != s {
			issues = append(issues, t.Issue)
			s = next
		}
	}

	date, ok := c.parseNumeric(s)
	if !ok {
		return Result{
			Corrected:  raw,
			Confidence: failedConfidence,
			Issues:     []string{fmt.Sprintf("unrecognized date format: %q", raw)},
		}
	}

	corrections := len(issues)
	confidence := math.Max(baseConfidence-correctionPenalty*float64(corrections), minCorrectedScore)
	today := c.Today()
	switch {
	case date.Before(today.AddDate(-1, 0, 0)):
		confidence *= staleFactor
		issues = append(issues, "date is more than a year old")
	case date.After(today.AddDate(0, 6, 0)):
		confidence *= farFutureFactor
		issues = append(issues, "date is more than six months in the future")
	}

	return Result{
		Corrected:    date.Format(Layout),
		Date:         date,
		Confidence:   round(confidence),
		WasCorrected: corrections > 0,
		Issues:       issues,
	}
}

// parseNumeric reads DD/MM/YYYY or YYYY/MM/DD, rejecting impossible days.
func (c *Corrector) parseNumeric(s string) (time.Time, bool) {
	var y, m, d string
	if g := numericPattern.FindStringSubmatch(s); g != nil {
		d, m, y = g[1], g[2], g[3]
	} else if g := isoPattern.FindStringSubmatch(s); g != nil {
		y, m, d = g[1], g[2], g[3]
	} else {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	return c.calendarDate(year, month, day)
}

func (c *Corrector) calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, c.loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// Validate checks a provider's date field. An empty field defaults to
// today with a confidence of 0.2; a field that cannot be read is returned
// as written with a confidence of 0.1. Dates in the future or more than
// five years old are flagged and scored down.
func (c *Corrector) Validate(raw string) FieldResult {
	today := c.Today()
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, "null") {
		return FieldResult{
			Date:       today,
			Confidence: defaultedConfidence,
			Issues:     []string{"no date found, defaulted to today"},
			Defaulted:  true,
		}
	}

	res := FieldResult{Raw: raw, Confidence: fieldConfidence}
	if date, ok := c.parseField(s); ok {
		res.Date = date
	} else {
		corrected := c.Correct(s)
		if !corrected.Parsed() {
			return FieldResult{
				Raw:        raw,
				Confidence: failedConfidence,
				Issues:     corrected.Issues,
			}
		}
		res.Date = corrected.Date
		res.Confidence = math.Min(res.Confidence, corrected.Confidence)
		res.Issues = append(res.Issues, corrected.Issues...)
	}

	if res.Date.After(today) {
		res.Future = true
		res.Confidence = math.Min(res.Confidence, suspiciousConfidence)
		res.Issues = append(res.Issues, "date is in the future")
	}
	if res.Date.Before(today.AddDate(-5, 0, 0)) {
		res.Stale = true
		res.Confidence = math.Min(res.Confidence, suspiciousConfidence)
		res.Issues = append(res.Issues, "date is more than five years old")
	}
	return res
}

// parseField reads ISO dates as calendar dates. Timestamps keep the date
// as written, never shifted through UTC.
func (c *Corrector) parseField(s string) (time.Time, bool) {
	if t, err := time.ParseInLocation("2006-01-02", s, c.loc); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return c.calendarDate(t.Year(), int(t.Month()), t.Day())
	}
	if len(s) > 10 {
		if t, err := time.ParseInLocation("2006-01-02", s[:10], c.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Resolve validates a provider date and, when it lands in the future,
// tries reading the same numbers as day/month before keeping the
// provider's value.
func (c *Corrector) Resolve(raw string) FieldResult {
	res := c.Validate(raw)
	if !res.Future {
		return res
	}
	alt, ok := ReinterpretDayMonth(res.Date)
	if !ok || alt.After(c.Today()) {
		return res
	}
	res.Date = alt
	res.Future = false
	res.Confidence = baseConfidence - correctionPenalty*2
	res.Issues = append(res.Issues, "reinterpreted future date as day/month")
	if res.Date.Before(c.Today().AddDate(-5, 0, 0)) {
		res.Stale = true
		res.Confidence = suspiciousConfidence
	}
	return res
}

// ReinterpretDayMonth swaps the day and month of t. It reports false when
// the swap is impossible or would change nothing.
func ReinterpretDayMonth(t time.Time) (time.Time, bool) {
	day, month := t.Day(), int(t.Month())
	if day > 12 || day == month {
		return t, false
	}
	swapped := time.Date(t.Year(), time.Month(day), month, 0, 0, 0, 0, t.Location())
	if swapped.Day() != month {
		return t, false
	}
	return swapped, true
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
