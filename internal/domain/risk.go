package domain

// RiskLevel is the closed low/medium/high classification derived from a
// numeric score via fixed thresholds, never from any other signal.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank returns the position of the level in the total order low < medium < high.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 0
	}
}

// RiskFactor is one named, described, severity-tagged contributor to a risk
// score. Ephemeral: recomputed on every scoring request, never persisted on
// its own.
type RiskFactor struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Impact      RiskLevel `json:"impact"`
}

// ScoringMethod records which scoring channels fed a result.
type ScoringMethod string

const (
	// MethodRuleBased marks a result produced from explicit answer rules only
	// (ML collaborator unavailable).
	MethodRuleBased ScoringMethod = "rule_based"

	// MethodMachineLearning marks a result that blended the ML channel.
	MethodMachineLearning ScoringMethod = "machine_learning"
)

// ChannelScore is one scoring channel: a 0..100 score, its band, and the
// factors that produced it.
type ChannelScore struct {
	Score   float64      `json:"score"`
	Level   RiskLevel    `json:"level"`
	Factors []RiskFactor `json:"factors"`
}

// RiskScoreResult is the complete scoring output for one application.
// Weighted.Score is the convex combination of the rule-based and ML scores.
// Computed fresh per request; never cached.
type RiskScoreResult struct {
	ApplicationID string        `json:"applicationId"`
	RuleBased     ChannelScore  `json:"ruleBased"`
	MLBased       *ChannelScore `json:"mlBased,omitempty"` // nil on rule-only fallback
	Weighted      ChannelScore  `json:"weighted"`
	Comments      []string      `json:"comments,omitempty"`
	ScoringMethod ScoringMethod `json:"scoringMethod"`
	OverallLabel  RiskLevel     `json:"overallLabel"`
	RuleWeight    float64       `json:"ruleWeight"`
}
