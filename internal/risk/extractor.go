package risk

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/steps"
)

// Answers is the merged, flattened view of an application's onboarding
// answers across all saved steps, reserved bookkeeping keys stripped.
type Answers map[string]any

// CollectAnswers merges the form records of an application into a single
// answer map. Records are merged in registry order so the result is
// deterministic regardless of storage order; unknown steps are skipped.
func CollectAnswers(records []*domain.FormRecord) Answers {
	byStep := make(map[string]*domain.FormRecord, len(records))
	for _, rec := range records {
		byStep[rec.Step] = rec
	}

	answers := make(Answers)
	for _, def := range steps.List() {
		rec, ok := byStep[def.ID]
		if !ok {
			continue
		}
		for k, v := range domain.StripReserved(rec.Data) {
			answers[k] = v
		}
	}
	return answers
}

// YesNo returns the normalized yes/no answer for a key: "yes", "no", or ""
// when absent or not a recognizable answer. Absence is "no data", never a
// synthetic negative.
func (a Answers) YesNo(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "yes", "y", "true":
			return "yes"
		case "no", "n", "false":
			return "no"
		}
	}
	return ""
}

// Text returns the trimmed string answer for a key, or "" when absent.
func (a Answers) Text(key string) string {
	v, ok := a[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// Extraction is the output of rule-based factor extraction.
type Extraction struct {
	Factors []domain.RiskFactor

	// Comments collects the respondent comments attached to negative answers,
	// in factor order.
	Comments []string

	// AssessmentNegatives is the count of risk-assessment questions answered
	// "no". Drives the binary rule-based score gate.
	AssessmentNegatives int

	// AssessmentAnswered is the count of risk-assessment questions with any
	// recognizable answer.
	AssessmentAnswered int
}

// Extract derives the ordered rule-based risk factors from an application's
// answers. Deterministic: identical input yields an identical, order-stable
// list (question declaration order, never severity order). Missing optional
// fields contribute no factor and never raise.
func Extract(answers Answers) *Extraction {
	ex := &Extraction{}

	for _, q := range kycQuestions {
		if answers.YesNo(q.Key) != "no" {
			continue
		}
		ex.addFactor(q, answers.Text(q.CommentKey()))
	}

	for _, q := range assessmentQuestions {
		switch answers.YesNo(q.Key) {
		case "no":
			ex.AssessmentAnswered++
			ex.AssessmentNegatives++
			ex.addFactor(q, answers.Text(q.CommentKey()))
		case "yes":
			ex.AssessmentAnswered++
		}
	}

	ex.businessFactors(answers)

	return ex
}

func (ex *Extraction) addFactor(q Question, comment string) {
	desc := q.Text
	if comment != "" {
		desc = fmt.Sprintf("%s Respondent: %s", q.Text, comment)
		ex.Comments = append(ex.Comments, comment)
	}
	ex.Factors = append(ex.Factors, domain.RiskFactor{
		Name:        q.Key,
		Description: desc,
		Impact:      q.Impact,
	})
}

// businessFactors derives factors from the business/financial fields of the
// client-details and finalisation steps.
func (ex *Extraction) businessFactors(answers Answers) {
	if answers.YesNo(answerUKResident) == "no" {
		ex.Factors = append(ex.Factors, domain.RiskFactor{
			Name:        "non-uk-resident",
			Description: "Client is not resident in the UK.",
			Impact:      domain.RiskMedium,
		})
	}

	switch strings.ToLower(answers.Text(answerReferralSource)) {
	case "unknown", "online", "online-search":
		ex.Factors = append(ex.Factors, domain.RiskFactor{
			Name:        "unverified-referral",
			Description: "Client was not referred through a known professional contact.",
			Impact:      domain.RiskLow,
		})
	}

	if strings.ToLower(answers.Text(answerWealthLevel)) == "high" {
		ex.Factors = append(ex.Factors, domain.RiskFactor{
			Name:        "declared-high-wealth",
			Description: "Client declared a high wealth level; source of wealth evidence expected.",
			Impact:      domain.RiskLow,
		})
	}
}
