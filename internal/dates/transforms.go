package dates

import (
	"regexp"
	"strconv"
	"strings"
)

// Transform is a single correction step applied to a raw date string.
// Apply must be pure; a step that returns its input unchanged is not
// recorded as a correction.
type Transform struct {
	Name  string
	Issue string
	Apply func(string) string
}

var (
	tokenPattern     = regexp.MustCompile(`[0-9A-Za-z]+`)
	dateLikePattern  = regexp.MustCompile(`^[0-9OoIlSB\s\-_./]+$`)
	separatorPattern = regexp.MustCompile(`(\d)[\s\-_./]+(\d)`)
	shortYearPattern = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`)
	numericPattern   = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	isoPattern       = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
)

var confusables = strings.NewReplacer(
	"O", "0",
	"o", "0",
	"l", "1",
	"I", "1",
	"S", "5",
	"B", "8",
)

// DefaultTransforms returns the built-in correction chain in the order it runs.
func DefaultTransforms() []Transform {
	return []Transform{
		{
			Name:  "characters",
			Issue: "replaced OCR-confused characters (O/l/I/S/B) with digits",
			Apply: repairCharacters,
		},
		{
			Name:  "separators",
			Issue: "normalized date separators to '/'",
			Apply: normalizeSeparators,
		},
		{
			Name:  "century",
			Issue: "expanded two-digit year to 20YY",
			Apply: expandCentury,
		},
		{
			Name:  "day-month",
			Issue: "swapped day and month",
			Apply: swapDayMonth,
		},
	}
}

// repairCharacters swaps look-alike letters for digits. Only tokens that
// already carry a digit are touched, unless the whole string is made of
// digits, confusable letters and separators.
func repairCharacters(s string) string {
	if dateLikePattern.MatchString(s) {
		return confusables.Replace(s)
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		if !strings.ContainsAny(tok, "0123456789") {
			return tok
		}
		return confusables.Replace(tok)
	})
}

func normalizeSeparators(s string) string {
	for {
		next := separatorPattern.ReplaceAllString(s, "$1/$2")
		if next == s {
			return s
		}
		s = next
	}
}

func expandCentury(s string) string {
	return shortYearPattern.ReplaceAllString(s, "$1/$2/20$3")
}

// swapDayMonth orients DD/MM/YYYY so a group above 12 is never read as the
// month. A leading group <= 12 followed by one > 12 is a month-first date
// and is flipped.
func swapDayMonth(s string) string {
	m := numericPattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	first, _ := strconv.Atoi(m[1])
	second, _ := strconv.Atoi(m[2])
	if second > 12 && first <= 12 {
		return m[2] + "/" + m[1] + "/" + m[3]
	}
	return s
}
