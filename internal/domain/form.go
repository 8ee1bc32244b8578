package domain

import (
	"time"
)

// FormRecord is the persisted state of one wizard step for one application.
// At most one current record exists per (applicationId, step); saves fully
// replace Data and refresh LastUpdated.
type FormRecord struct {
	ApplicationID string         `json:"applicationId"`
	Step          string         `json:"step"`
	Data          map[string]any `json:"data"`
	LastUpdated   time.Time      `json:"lastUpdated"`
}

// Reserved bookkeeping keys written by autosaving clients. They carry no form
// content and must be ignored when deciding whether a step is complete,
// otherwise every visited-but-empty step would count as complete.
const (
	ReservedSavedAtKey  = "_savedAt"
	ReservedVersionKey  = "_version"
	ReservedCompleteKey = "_complete"
)

// StripReserved returns a copy of data without the reserved bookkeeping keys.
// The explicit completion flag is also stripped; callers that need it should
// check HasCompletionFlag first.
func StripReserved(data map[string]any) map[string]any {
	if len(data) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case ReservedSavedAtKey, ReservedVersionKey, ReservedCompleteKey:
			continue
		}
		out[k] = v
	}
	return out
}

// HasCompletionFlag reports whether data carries the explicit completion marker.
func HasCompletionFlag(data map[string]any) bool {
	v, ok := data[ReservedCompleteKey]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// IsComplete applies the completion rule: a record counts as completed iff its
// data is non-empty after stripping reserved keys, or carries the explicit
// completion flag.
func (r *FormRecord) IsComplete() bool {
	if r == nil {
		return false
	}
	if HasCompletionFlag(r.Data) {
		return true
	}
	return len(StripReserved(r.Data)) > 0
}
