// Package steps holds the static registry of onboarding wizard steps.
package steps

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// registry is the fixed ordered sequence of wizard steps. Order defines both
// UI sequencing and the denominator for progress percentages; it is never
// inferred from submission order.
var registry = []domain.StepDefinition{
	{ID: "client-details", Label: "Client Details", Order: 0},
	{ID: "trading-as", Label: "Trading As", Order: 1},
	{ID: "referrals", Label: "Referrals", Order: 2},
	{ID: "associations", Label: "Associations", Order: 3},
	{ID: "assignments", Label: "Assignments", Order: 4},
	{ID: "kyc", Label: "Know Your Client", Order: 5},
	{ID: "risk-assessment", Label: "Risk Assessment", Order: 6},
	{ID: "non-audit-checklist", Label: "Non-Audit Checklist", Order: 7},
	{ID: "finalisation", Label: "Finalisation", Order: 8},
}

var index = buildIndex()

func buildIndex() map[string]int {
	m := make(map[string]int, len(registry))
	for i, s := range registry {
		m[s.ID] = i
	}
	return m
}

// List returns all step definitions in registry order. The returned slice is a
// copy; callers may not mutate the registry.
func List() []domain.StepDefinition {
	out := make([]domain.StepDefinition, len(registry))
	copy(out, registry)
	return out
}

// Count returns the number of registered steps.
func Count() int {
	return len(registry)
}

// IndexOf returns the registry position of a step id.
func IndexOf(stepID string) (int, error) {
	i, ok := index[stepID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownStep, stepID)
	}
	return i, nil
}

// IsKnown reports whether a step id is in the registry.
func IsKnown(stepID string) bool {
	_, ok := index[stepID]
	return ok
}

// Get returns the definition for a step id.
func Get(stepID string) (domain.StepDefinition, error) {
	i, err := IndexOf(stepID)
	if err != nil {
		return domain.StepDefinition{}, err
	}
	return registry[i], nil
}
