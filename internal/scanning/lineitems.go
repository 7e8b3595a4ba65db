package scanning

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// PriceUnits tells the normalizer how a provider writes prices. It is a
// property of the provider, not of a single receipt.
type PriceUnits int

const (
	// UnitsMajor means 12.50 is twelve and a half. Every shipped provider
	// is prompted for major units.
	UnitsMajor PriceUnits = iota
	// UnitsMinor means 1250 is twelve and a half.
	UnitsMinor
	// UnitsAuto detects minor units per batch. Whole-number receipts in
	// major units (JPY, furniture) are misread, so it is opt-in only.
	UnitsAuto
)

const unknownItem = "Unknown item"

var hundred = decimal.NewFromInt(100)

// ProviderLineItem is a line entry as a provider returned it. Price fields
// keep the literal token so the unit regime can be detected.
type ProviderLineItem struct {
	Description string
	Quantity    json.Number
	UnitPrice   json.Number
	TotalPrice  json.Number
	Discount    json.Number
	Discounted  bool
	SKU         string
	Confidences []float64
}

// Normalizer converts provider line items to LineItems. The zero value
// reads major units.
type Normalizer struct {
	Units PriceUnits
}

// Minor reports whether prices in raw are minor units.
func (n Normalizer) Minor(raw []ProviderLineItem) bool {
	return n.Units == UnitsMinor || (n.Units == UnitsAuto && minorUnits(raw))
}

// Amount converts a receipt-level amount with the same regime as the line
// items so the total and the items never disagree.
func (n Normalizer) Amount(d decimal.Decimal, minor bool) decimal.Decimal {
	if minor {
		d = d.Div(hundred)
	}
	return d.Round(2)
}

// Normalize never fails: missing values get safe defaults and the output
// keeps the input order and length.
func (n Normalizer) Normalize(raw []ProviderLineItem) []LineItem {
	items := make([]LineItem, 0, len(raw))
	minor := n.Minor(raw)

	price := func(tok json.Number) (decimal.Decimal, bool) {
		d, ok := parseAmount(tok.String())
		if !ok {
			return decimal.Zero, false
		}
		return n.Amount(d, minor), true
	}

	for _, r := range raw {
		item := LineItem{
			Description: strings.Join(strings.Fields(r.Description), " "),
			Quantity:    decimal.NewFromInt(1),
			TotalPrice:  NewMoney(decimal.Zero),
			Confidence:  mean(r.Confidences),
			Discounted:  r.Discounted,
			SKU:         strings.TrimSpace(r.SKU),
		}
		if item.Description == "" {
			item.Description = unknownItem
		}
		if q, ok := parseAmount(r.Quantity.String()); ok && q.IsPositive() {
			item.Quantity = q
		}

		unit, hasUnit := price(r.UnitPrice)
		total, hasTotal := price(r.TotalPrice)
		switch {
		case hasTotal:
			item.TotalPrice = NewMoney(total)
		case hasUnit:
			item.TotalPrice = NewMoney(unit.Mul(item.Quantity).Round(2))
		}
		switch {
		case hasUnit:
			u := NewMoney(unit)
			item.UnitPrice = &u
		case hasTotal && !item.Quantity.IsZero():
			u := NewMoney(total.Div(item.Quantity).Round(2))
			item.UnitPrice = &u
		}

		if d, ok := price(r.Discount); ok && !d.IsZero() {
			item.Discounted = true
		}
		items = append(items, item)
	}
	return items
}

// minorUnits reports whether every price token in the batch is an integer
// literal and at least one is 100 or more, i.e. prices written in cents.
func minorUnits(raw []ProviderLineItem) bool {
	seen, large := false, false
	for _, r := range raw {
		for _, tok := range []json.Number{r.UnitPrice, r.TotalPrice, r.Discount} {
			s := strings.TrimSpace(tok.String())
			if s == "" {
				continue
			}
			if strings.ContainsAny(s, ".,eE") {
				return false
			}
			d, ok := parseAmount(s)
			if !ok {
				continue
			}
			seen = true
			if d.Abs().GreaterThanOrEqual(hundred) {
				large = true
			}
		}
	}
	return seen && large
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += clamp(v)
	}
	return sum / float64(len(values))
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
