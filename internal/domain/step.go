package domain

// StepDefinition is one page of the onboarding wizard. The ordered sequence of
// all StepDefinitions forms the step registry; its length is the denominator
// for every progress percentage.
type StepDefinition struct {
	ID    string `json:"id"`    // stable key, e.g. "client-details"
	Label string `json:"label"` // human-readable name
	Order int    `json:"order"` // 0-based, unique, contiguous
}
