package domain

import "errors"

// Typed errors for the onboarding core. Callers match with errors.Is.
var (
	// ErrUnknownStep is returned when a step id outside the registry is used
	// for an authoritative lookup.
	ErrUnknownStep = errors.New("unknown step")

	// ErrApplicationNotFound is returned when the referenced application does not exist.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrScoringUnavailable is returned when the ML scoring collaborator cannot
	// produce a score. Recoverable: the scorer degrades to rule-based-only output.
	ErrScoringUnavailable = errors.New("ml scoring unavailable")

	// ErrInvalidWeight is returned when a rule weight outside [0,1] is supplied.
	// Rejected before any computation or side effect.
	ErrInvalidWeight = errors.New("rule weight must be between 0 and 1")
)
