package scanning

// Heuristic per-field scores used when a provider reports no confidence.
const (
	heuristicTotal     = 0.95
	heuristicMerchant  = 0.9
	heuristicDate      = 0.85
	heuristicLineItems = 0.8
	heuristicNothing   = 0.5
)

// Fields are the inputs to Aggregate. A nil pointer means the field was not
// extracted.
type Fields struct {
	Merchant  *float64
	Total     *float64
	Date      *float64
	LineItems []float64
}

// Aggregate combines per-field confidences. Overall is the mean of the
// merchant, total and date scores that are present, or 0 when none are.
// Line items score the mean of their confidences, 0 when there are none.
func Aggregate(f Fields) ConfidenceSummary {
	s := ConfidenceSummary{
		LineItems: mean(f.LineItems),
	}
	var sum float64
	var n int
	for _, field := range []struct {
		v   *float64
		dst *float64
	}{
		{f.Merchant, &s.Merchant},
		{f.Total, &s.Total},
		{f.Date, &s.Date},
	} {
		if field.v == nil {
			continue
		}
		*field.dst = clamp(*field.v)
		sum += *field.dst
		n++
	}
	if n > 0 {
		s.Overall = sum / float64(n)
	}
	return s
}

// NeedsReview reports whether any extracted field scored below threshold.
func (s ConfidenceSummary) NeedsReview(threshold float64) bool {
	return s.Overall < threshold ||
		(s.Merchant > 0 && s.Merchant < threshold) ||
		(s.Total > 0 && s.Total < threshold) ||
		(s.Date > 0 && s.Date < threshold)
}

// heuristicConfidence scores an extraction by which fields it produced.
func heuristicConfidence(hasMerchant, hasTotal, hasDate bool, items int) float64 {
	var scores []float64
	if hasTotal {
		scores = append(scores, heuristicTotal)
	}
	if hasMerchant {
		scores = append(scores, heuristicMerchant)
	}
	if hasDate {
		scores = append(scores, heuristicDate)
	}
	if items > 0 {
		scores = append(scores, heuristicLineItems)
	}
	if len(scores) == 0 {
		return heuristicNothing
	}
	return mean(scores)
}

func ptr[T any](v T) *T {
	return &v
}
