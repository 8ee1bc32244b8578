// Package risk implements rule-based risk factor extraction, classification,
// and the blended rule/ML scorer for onboarding applications.
package risk

import "github.com/opensource-finance/kestrel/internal/domain"

// Question is one declared yes/no onboarding question. Answers live in the
// form data under Key; the respondent's free-text comment under Key+"Comment".
// A "no" answer contributes one factor at Impact; "yes" contributes none;
// a missing answer contributes nothing.
type Question struct {
	Key    string
	Text   string
	Impact domain.RiskLevel
}

// CommentKey returns the form data key holding the respondent's comment.
func (q Question) CommentKey() string {
	return q.Key + "Comment"
}

// kycQuestions are the identity/integrity questions from the KYC step.
// A "no" on any of these is always a high-impact factor.
var kycQuestions = []Question{
	{Key: "identityVerified", Text: "Has the client's identity been verified against photographic ID?", Impact: domain.RiskHigh},
	{Key: "addressVerified", Text: "Has the client's home address been verified?", Impact: domain.RiskHigh},
	{Key: "beneficialOwnersIdentified", Text: "Have all beneficial owners been identified?", Impact: domain.RiskHigh},
	{Key: "integritySatisfied", Text: "Is the firm satisfied as to the client's integrity?", Impact: domain.RiskHigh},
	{Key: "sourceOfFundsUnderstood", Text: "Is the source of the client's funds understood?", Impact: domain.RiskHigh},
}

// assessmentQuestions are the risk-assessment step questions. Impact is
// medium or high per question; the binary rule-based score gate is driven by
// these answers alone.
var assessmentQuestions = []Question{
	{Key: "activitiesUnderstood", Text: "Are the client's business activities understood and legitimate?", Impact: domain.RiskMedium},
	{Key: "recordsAdequate", Text: "Are the client's accounting records adequate for the engagement?", Impact: domain.RiskMedium},
	{Key: "structureStraightforward", Text: "Is the ownership structure free of unusual complexity?", Impact: domain.RiskHigh},
	{Key: "feesViable", Text: "Can the client sustain the proposed fees without going concern doubt?", Impact: domain.RiskMedium},
	{Key: "independenceClear", Text: "Is the firm free of independence threats for this engagement?", Impact: domain.RiskHigh},
}

// KYCQuestions returns the declared KYC questions in order.
func KYCQuestions() []Question {
	out := make([]Question, len(kycQuestions))
	copy(out, kycQuestions)
	return out
}

// AssessmentQuestions returns the declared risk-assessment questions in order.
func AssessmentQuestions() []Question {
	out := make([]Question, len(assessmentQuestions))
	copy(out, assessmentQuestions)
	return out
}

// Business/financial answer keys consumed by the extractor.
const (
	answerUKResident     = "ukResident"
	answerReferralSource = "referralSource"
	answerWealthLevel    = "wealthLevel"
)
