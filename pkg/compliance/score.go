package compliance

import (
	"fmt"
	"math"
)

const (
	websiteUnreachableRisk = 25.0
	noContactInfoRisk      = 10.0
	highRiskCategoryRisk   = 35.0
	adverseMediaRisk       = 30.0
	// Average sentiment below this counts as adverse coverage.
	adverseThreshold = 0.4
)

// Score turns a report into a 0-100 risk score and the factors behind it.
func Score(r *Report) (float64, []string) {
	score := 0.0
	factors := []string{}

	switch md := r.Website; {
	case md == nil:
	case !md.Success:
		score += websiteUnreachableRisk
		factors = append(factors, "website unreachable")
	case !md.HasContactInfo():
		score += noContactInfoRisk
		factors = append(factors, "no contact information on website")
	}

	if c := r.Categorization; c != nil && c.HighRisk {
		score += highRiskCategoryRisk * c.Confidence
		factors = append(factors, fmt.Sprintf("high-risk category %q", c.Category))
	}

	if s := r.Sentiment; s != nil && *s < adverseThreshold {
		score += adverseMediaRisk * (adverseThreshold - *s) / adverseThreshold
		factors = append(factors, fmt.Sprintf("adverse media (average sentiment %.2f)", *s))
	}

	score = math.Max(0, math.Min(100, score))
	return math.Round(score*10) / 10, factors
}
