package domain

import "time"

// StepStatus is the per-step summary included in a ProgressResult for every
// step that has a persisted record.
type StepStatus struct {
	LastUpdated time.Time `json:"lastUpdated"`
	HasData     bool      `json:"hasData"`
	FieldCount  int       `json:"fieldCount"` // reserved bookkeeping keys excluded
}

// ProgressResult is the completion state of one application across the step
// registry. Percentage is always round(completedCount / totalSteps * 100) and
// is eventually consistent with concurrent saves.
type ProgressResult struct {
	CompletedCount   int                   `json:"completedCount"`
	TotalSteps       int                   `json:"totalSteps"`
	Percentage       int                   `json:"percentage"`
	CompletedStepIDs []string              `json:"completedStepIds"` // registry order
	Steps            map[string]StepStatus `json:"steps"`

	// Unrecognized holds records whose step id is no longer in the registry
	// (renamed or retired steps). They never count toward CompletedCount or
	// Percentage but are kept visible for diagnostics.
	Unrecognized map[string]StepStatus `json:"unrecognized,omitempty"`
}
