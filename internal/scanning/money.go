package scanning

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount that serializes with two fraction digits.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps d.
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

// MoneyFromString parses s, panicking on malformed input. Intended for
// literals and tests.
func MoneyFromString(s string) Money {
	return Money{Decimal: decimal.RequireFromString(s)}
}

// MarshalJSON writes the amount as a quoted string with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

// UnmarshalJSON accepts quoted or bare numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.Decimal.UnmarshalJSON(data)
}

var amountNoise = regexp.MustCompile(`[^0-9.\-]`)

// parseAmount reads amounts the way receipts print them: currency symbols,
// thousands separators and a trailing minus are tolerated.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	negative := strings.HasSuffix(s, "-") || strings.HasPrefix(s, "(")
	// "12,50" and "1.234,56" use a decimal comma; "1,234" does not
	if i := strings.LastIndex(s, ","); i >= 0 && strings.LastIndex(s, ".") < i {
		frac := strings.TrimRight(s[i+1:], " )-€$£")
		if len(frac) == 1 || len(frac) == 2 {
			s = strings.ReplaceAll(s[:i], ".", "") + "." + s[i+1:]
		}
	}
	s = amountNoise.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, "-")
	if s == "" || s == "." || s == "-" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative && d.IsPositive() {
		d = d.Neg()
	}
	return d, true
}
