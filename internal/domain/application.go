package domain

import (
	"time"
)

// Application represents one client-onboarding case progressing through the
// nine-step wizard. Identified by a UUID.
type Application struct {
	ID         string    `json:"id"`
	ClientName string    `json:"clientName"`
	Email      string    `json:"email,omitempty"`
	Status     string    `json:"status"` // "draft", "in_progress", "complete"
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Application status constants.
const (
	StatusDraft      = "draft"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// ApplicationSummary is the admin dashboard row: an application together with
// its completion progress and the most recent risk snapshot, if any.
type ApplicationSummary struct {
	Application Application    `json:"application"`
	Progress    ProgressResult `json:"progress"`
	RiskLevel   RiskLevel      `json:"riskLevel,omitempty"`
	RiskScore   *float64       `json:"riskScore,omitempty"`
	RiskBadge   string         `json:"riskBadge,omitempty"`
}
