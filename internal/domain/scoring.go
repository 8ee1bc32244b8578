package domain

import (
	"context"
	"time"
)

// MLScorer is the external, opaque predictive scoring collaborator. The model
// behind it is out of scope; the core only consumes its output. Failures map
// to ErrScoringUnavailable and trigger the rule-based fallback.
type MLScorer interface {
	Score(ctx context.Context, applicationID string) (*ChannelScore, error)
}

// MLConfig holds configuration for the ML scoring collaborator client.
type MLConfig struct {
	// BaseURL of the scoring service. Empty means no ML channel is configured
	// and every scoring request uses the rule-based fallback.
	BaseURL string

	// Timeout for a single scoring call. Expiry is treated as unavailability.
	Timeout time.Duration
}

// RiskSnapshot is the persisted audit record of one scoring request. Snapshots
// feed the admin dashboard; they are never read back as a score cache.
type RiskSnapshot struct {
	ID            string        `json:"id"`
	ApplicationID string        `json:"applicationId"`
	Score         float64       `json:"score"` // weighted score at scoring time
	Level         RiskLevel     `json:"level"`
	ScoringMethod ScoringMethod `json:"scoringMethod"`
	RuleWeight    float64       `json:"ruleWeight"`
	Factors       []RiskFactor  `json:"factors"`
	CreatedAt     time.Time     `json:"createdAt"`
}
