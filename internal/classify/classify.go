// Package classify turns a raw session failure (an error value, a process
// exit code, captured stderr) into a closed category the retry policy and
// scheduler can act on without inspecting transport-specific error types.
package classify

import (
	"regexp"
	"strings"
)

// Category is one of a closed set of failure classifications.
type Category string

const (
	Transient  Category = "transient"
	RateLimit  Category = "rate_limit"
	AgentCrash Category = "agent_crash"
	Timeout    Category = "timeout"
	Billing    Category = "billing"
	Auth       Category = "auth"
	Tooling    Category = "tooling"
	Unknown    Category = "unknown"
)

// Classification is the output of Classify.
type Classification struct {
	Category     Category
	Retryable    bool
	HumanMessage string
}

// retryable maps each category to whether the scheduler should retry at
// all. Retry *counts* (once vs. exhaustively) are the retry policy's job,
// not the classifier's.
var retryable = map[Category]bool{
	Transient:  true,
	RateLimit:  true,
	AgentCrash: true,
	Timeout:    true,
	Billing:    false,
	Auth:       false,
	Tooling:    true,
	Unknown:    true,
}

var (
	rateLimitPattern = regexp.MustCompile(`(?i)\b429\b|rate[\s_-]?limit|too many requests`)
	serverErrPattern = regexp.MustCompile(`(?i)\b5\d{2}\b|connection reset|dns|no such host|timeout|temporary failure`)
	billingPattern   = regexp.MustCompile(`(?i)insufficient (credit|quota|balance)|payment required|billing`)
	authPattern      = regexp.MustCompile(`(?i)invalid (api )?key|unauthorized|forbidden|authentication failed|401|403`)
	toolingPattern   = regexp.MustCompile(`(?i)executable file not found|command not found|no such file or directory`)
)

// crashExitCodes are well-known process exit codes signifying the agent
// subprocess itself died abnormally (as opposed to exiting cleanly with a
// nonzero status it chose).
var crashExitCodes = map[int]bool{
	134: true, // SIGABRT
	136: true, // SIGFPE
	137: true, // SIGKILL (commonly OOM)
	139: true, // SIGSEGV
	143: true, // SIGTERM
}

// Classify determines the category, retryability, and a human-readable
// message for a session failure. exitCode is nil when the failure did not
// come from a subprocess exit (e.g. an HTTP transport error).
func Classify(err error, exitCode *int, stderr string) Classification {
	text := stderr
	if err != nil {
		if text != "" {
			text = text + "\n" + err.Error()
		} else {
			text = err.Error()
		}
	}

	switch {
	case rateLimitPattern.MatchString(text):
		return classification(RateLimit, "rate limited by the provider")
	case billingPattern.MatchString(text):
		return classification(Billing, "billing or quota error, will not retry")
	case authPattern.MatchString(text):
		return classification(Auth, "authentication error, will not retry")
	case toolingPattern.MatchString(text):
		return classification(Tooling, "a required external tool was not found on PATH")
	case exitCode != nil && crashExitCodes[*exitCode]:
		return classification(AgentCrash, "agent process crashed")
	case serverErrPattern.MatchString(text):
		return classification(Transient, "transient network or server error")
	case strings.Contains(strings.ToLower(text), "stall") || strings.Contains(strings.ToLower(text), "timed out"):
		return classification(Timeout, "session timed out or stalled")
	case exitCode != nil && *exitCode != 0:
		return classification(AgentCrash, "agent process exited nonzero with no completion signal")
	default:
		return classification(Unknown, "unclassified failure")
	}
}

func classification(c Category, msg string) Classification {
	return Classification{Category: c, Retryable: retryable[c], HumanMessage: msg}
}
