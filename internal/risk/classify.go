package risk

import "github.com/opensource-finance/kestrel/internal/domain"

// Band thresholds, inclusive at the lower bound of each band. Applied
// identically to the rule-based, ML-based, and weighted scores.
const (
	HighThreshold   = 70.0
	MediumThreshold = 40.0
)

// Classify maps a 0..100 score into a risk band.
func Classify(score float64) domain.RiskLevel {
	switch {
	case score >= HighThreshold:
		return domain.RiskHigh
	case score >= MediumThreshold:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Badge returns the stable color token for a risk level. A pure function of
// the level only, so level and visual indicator can never disagree.
func Badge(level domain.RiskLevel) string {
	switch level {
	case domain.RiskHigh:
		return "red"
	case domain.RiskMedium:
		return "amber"
	default:
		return "green"
	}
}
