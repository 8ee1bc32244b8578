package domain

import "time"

// ScreeningRule is an admin-configurable CEL rule evaluated against an
// application's flattened answers. A firing rule contributes one advisory
// RiskFactor at the configured impact; screening never moves the rule-based
// numeric score.
type ScreeningRule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Version     string    `json:"version"`
	Expression  string    `json:"expression"` // CEL, must return bool
	Impact      RiskLevel `json:"impact"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}
