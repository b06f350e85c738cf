package types

// Config is the merged harness configuration loaded from the global config
// directory, the project's .ada/ada.json(c), and environment overrides.
type Config struct {
	Model         string            `json:"model,omitempty"`
	SmallModel    string            `json:"small_model,omitempty"`
	AgentCommand  []string          `json:"agent_command,omitempty"`
	AgentEndpoint string            `json:"agent_endpoint,omitempty"`
	MaxSteps      int               `json:"max_steps,omitempty"`
	MaxTurnTokens int               `json:"max_turn_tokens,omitempty"`
	SessionTimeoutSeconds int       `json:"session_timeout_seconds,omitempty"`
	StallTimeoutSeconds   int       `json:"stall_timeout_seconds,omitempty"`
	MaxRetries    int               `json:"max_retries,omitempty"`
	Gates         []GateConfig      `json:"gates,omitempty"`
	Approval      ApprovalPolicy    `json:"approval,omitempty"`
	Telemetry     TelemetryConfig   `json:"telemetry,omitempty"`
	Providers     map[string]string `json:"providers,omitempty"`

	// ContextWindowTokens is the configured model's context window, used to
	// estimate when a session is approaching the handoff threshold. Zero
	// disables the context-budget handoff check.
	ContextWindowTokens int64 `json:"context_window_tokens,omitempty"`
	// ContextThresholdPct overrides the default 70% handoff threshold.
	ContextThresholdPct float64 `json:"context_threshold_pct,omitempty"`
}

// GateConfig describes one verification-pipeline gate as configured by the
// project (lint/typecheck/unit/e2e/hook/coverage).
type GateConfig struct {
	Name             string `json:"name"`
	Command          string `json:"command,omitempty"`
	TimeoutSeconds   int    `json:"timeout_seconds,omitempty"`
	CoveragePath     string `json:"coverage_path,omitempty"`
	MinCoveragePct   float64 `json:"min_coverage_pct,omitempty"`
	RequiresApproval bool   `json:"requires_approval,omitempty"`
}

// TelemetryConfig configures the read-only HTTP/websocket surface.
type TelemetryConfig struct {
	Port       int  `json:"port,omitempty"`
	EnableCORS bool `json:"enable_cors,omitempty"`
}
