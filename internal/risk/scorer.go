package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/progress"
	"github.com/opensource-finance/kestrel/internal/screening"
)

var tracer = otel.Tracer("kestrel-risk")

// Rule-based score constants for the binary gate: all risk-assessment
// questions answered "yes" lands in the low band, any "no" in the high band.
// Partially answered assessments land in the medium band.
const (
	ruleScoreAllClear  = 20.0
	ruleScorePartial   = 55.0
	ruleScoreNegatives = 90.0
)

// Scorer combines the rule-based channel with the external ML channel into a
// weighted risk score. Read-only over form data: computed fresh per request,
// never cached, no persistence of its own.
type Scorer struct {
	repo      domain.Repository
	ml        domain.MLScorer
	screening *screening.Engine
}

// NewScorer creates a risk scorer. ml may be nil (every request then takes
// the rule-based fallback path) and screening may be nil (no advisory rules).
func NewScorer(repo domain.Repository, ml domain.MLScorer, screeningEngine *screening.Engine) *Scorer {
	return &Scorer{
		repo:      repo,
		ml:        ml,
		screening: screeningEngine,
	}
}

// Score computes the full risk result for an application.
//
// ruleWeight is the rule-channel weight w of the convex combination
// weighted = w*rule + (1-w)*ml, and must be within [0,1]; out-of-range
// weights are rejected before any fetch or side effect.
//
// ML unavailability is recoverable: the result degrades to the rule-based
// channel mirrored into the weighted channel, with ScoringMethod announcing
// the fallback.
func (s *Scorer) Score(ctx context.Context, appID string, ruleWeight float64) (*domain.RiskScoreResult, error) {
	if ruleWeight < 0 || ruleWeight > 1 || math.IsNaN(ruleWeight) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidWeight, ruleWeight)
	}

	ctx, span := tracer.Start(ctx, "risk.score")
	defer span.End()
	span.SetAttributes(attribute.String("application.id", appID))

	exists, err := s.repo.ApplicationExists(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("checking application: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", domain.ErrApplicationNotFound, appID)
	}

	records, err := s.repo.GetFormRecords(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("fetching form records: %w", err)
	}

	answers := CollectAnswers(records)
	extraction := Extract(answers)

	ruleScore := ruleScoreFor(extraction)
	ruleFactors := extraction.Factors

	if s.screening != nil && s.screening.RuleCount() > 0 {
		completed := progress.Compute(records).CompletedCount
		ruleFactors = append(ruleFactors, s.screening.Evaluate(ctx, &screening.EvaluateInput{
			ApplicationID:  appID,
			Answers:        answers,
			CompletedSteps: completed,
		})...)
	}

	ruleChannel := domain.ChannelScore{
		Score:   ruleScore,
		Level:   Classify(ruleScore),
		Factors: ruleFactors,
	}

	result := &domain.RiskScoreResult{
		ApplicationID: appID,
		RuleBased:     ruleChannel,
		Comments:      extraction.Comments,
		RuleWeight:    ruleWeight,
	}

	mlChannel, err := s.mlScore(ctx, appID)
	if err != nil {
		if !errors.Is(err, domain.ErrScoringUnavailable) {
			return nil, err
		}
		// Rule-based fallback: mirror the rule channel into weighted.
		slog.Warn("ml scoring unavailable, falling back to rule-based",
			"application_id", appID,
			"error", err,
		)
		result.ScoringMethod = domain.MethodRuleBased
		result.Weighted = ruleChannel
		result.OverallLabel = ruleChannel.Level
		return result, nil
	}

	weightedScore := clamp(ruleWeight*ruleScore+(1-ruleWeight)*mlChannel.Score, 0, 100)

	weightedFactors := make([]domain.RiskFactor, 0, len(ruleFactors)+len(mlChannel.Factors))
	weightedFactors = append(weightedFactors, ruleFactors...)
	weightedFactors = append(weightedFactors, mlChannel.Factors...)

	result.MLBased = mlChannel
	result.ScoringMethod = domain.MethodMachineLearning
	result.Weighted = domain.ChannelScore{
		Score:   weightedScore,
		Level:   Classify(weightedScore),
		Factors: weightedFactors,
	}
	result.OverallLabel = result.Weighted.Level

	return result, nil
}

// mlScore fetches and normalizes the ML channel.
func (s *Scorer) mlScore(ctx context.Context, appID string) (*domain.ChannelScore, error) {
	if s.ml == nil {
		return nil, fmt.Errorf("%w: no scorer configured", domain.ErrScoringUnavailable)
	}

	ml, err := s.ml.Score(ctx, appID)
	if err != nil {
		return nil, err
	}

	// Re-derive the band locally so thresholds are applied identically to
	// every channel, whatever the collaborator claimed.
	normalized := &domain.ChannelScore{
		Score:   clamp(ml.Score, 0, 100),
		Factors: ml.Factors,
	}
	normalized.Level = Classify(normalized.Score)
	return normalized, nil
}

// ruleScoreFor maps an extraction onto the binary rule score. Any
// risk-assessment "no" forces the high band; a fully answered, all-"yes"
// assessment lands in the low band; anything in between is medium.
func ruleScoreFor(ex *Extraction) float64 {
	switch {
	case ex.AssessmentNegatives > 0:
		return ruleScoreNegatives
	case ex.AssessmentAnswered == len(assessmentQuestions):
		return ruleScoreAllClear
	default:
		return ruleScorePartial
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
