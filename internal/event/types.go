package event

import "github.com/adaharness/ada/pkg/types"

// StatusUpdatedData is the payload for status.updated events, the
// scheduler's own heartbeat describing what it is doing right now.
type StatusUpdatedData struct {
	State            string  `json:"state"` // "idle" | "running" | "paused" | "shutting_down"
	FeatureID        string  `json:"feature_id,omitempty"`
	SessionID        string  `json:"session_id,omitempty"`
	Attempt          int     `json:"attempt,omitempty"`
	ContextUsagePct  float64 `json:"context_usage_pct,omitempty"`
}

// BacklogUpdatedData is the payload for backlog.updated events.
type BacklogUpdatedData struct {
	FeatureCount int `json:"feature_count"`
}

// FeatureUpdatedData is the payload for feature.updated events.
type FeatureUpdatedData struct {
	Feature *types.Feature `json:"feature"`
}

// SessionStartedData is the payload for session.started events.
type SessionStartedData struct {
	Session *types.SessionRecord `json:"session"`
}

// SessionEndedData is the payload for session.ended events.
type SessionEndedData struct {
	Session *types.SessionRecord `json:"session"`
}

// CostUpdateData is the payload for cost.update events.
type CostUpdateData struct {
	FeatureID        string  `json:"feature_id"`
	SessionID        string  `json:"session_id"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// ProgressUpdateData is the payload for progress.update events.
type ProgressUpdateData struct {
	Entry *types.ProgressEntry `json:"entry"`
}

// AlertCreatedData is the payload for alert.created events.
type AlertCreatedData struct {
	Alert *types.Alert `json:"alert"`
}

// VcsBranchChangedData is the payload for vcs.branch_changed events, an
// internal notification the scheduler's preflight check uses to detect an
// out-of-band branch switch underneath a running harness.
type VcsBranchChangedData struct {
	Branch string `json:"branch"`
}
