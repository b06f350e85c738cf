// Package verify runs the ordered verification pipeline (lint, type-check,
// unit, e2e, coverage, pre-complete hook, manual approval) that gates a
// feature's completion after a session reports apparent success.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/adaharness/ada/pkg/types"
)

// GateKind names one of the seven fixed pipeline stages.
type GateKind string

const (
	GateLint        GateKind = "lint"
	GateTypeCheck   GateKind = "type_check"
	GateUnit        GateKind = "unit"
	GateE2E         GateKind = "e2e"
	GateCoverage    GateKind = "coverage"
	GateHook        GateKind = "hook"
	GateApproval    GateKind = "approval"
)

// maxCapturedOutput bounds how much stdout/stderr a failing gate reports.
const maxCapturedOutput = 8 * 1024

// Gate is one configured pipeline step.
type Gate struct {
	Kind    GateKind
	Config  types.GateConfig
	Feature *types.Feature
}

// Approver decides whether a feature requiring manual approval may pass,
// either by prompting interactively or via an injected callback (e.g. the
// telemetry API relaying a dashboard click).
type Approver func(ctx context.Context, feature *types.Feature) (bool, error)

// Result is the outcome of running the full pipeline.
type Result struct {
	Passed      bool
	FailedGate  GateKind
	Output      string
	Error       string
}

// Run executes gates in order against workDir, stopping at the first
// failure. approve is consulted only for a gate of kind approval.
func Run(ctx context.Context, workDir string, gates []Gate, approve Approver) Result {
	for _, g := range gates {
		res := runGate(ctx, workDir, g, approve)
		if !res.Passed {
			res.FailedGate = g.Kind
			return res
		}
	}
	return Result{Passed: true}
}

func runGate(ctx context.Context, workDir string, g Gate, approve Approver) Result {
	switch g.Kind {
	case GateCoverage:
		return runCoverageGate(ctx, workDir, g)
	case GateHook:
		return runHookGate(ctx, workDir, g)
	case GateApproval:
		return runApprovalGate(ctx, g, approve)
	default:
		return runShellGate(ctx, workDir, g.Config)
	}
}

func runShellGate(ctx context.Context, workDir string, cfg types.GateConfig) Result {
	if cfg.Command == "" {
		return Result{Passed: true}
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := ParseCommand(cfg.Command); err != nil {
		return Result{Error: fmt.Sprintf("invalid gate command: %v", err)}
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", cfg.Command)
	cmd.Dir = workDir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	captured := truncate(out.String())
	if err != nil {
		return Result{Output: captured, Error: err.Error()}
	}
	return Result{Passed: true, Output: captured}
}

func runHookGate(ctx context.Context, workDir string, g Gate) Result {
	if g.Config.Command == "" {
		return Result{Passed: true}
	}
	timeout := time.Duration(g.Config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", g.Config.Command)
	cmd.Dir = workDir
	env := []string{
		"ADA_PROJECT_ROOT=" + workDir,
	}
	if g.Feature != nil {
		env = append(env,
			"ADA_FEATURE_ID="+g.Feature.ID,
			"ADA_FEATURE_NAME="+g.Feature.Title,
			"ADA_FEATURE_CATEGORY="+featureCategory(g.Feature),
		)
	}
	cmd.Env = append(cmd.Environ(), env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	captured := truncate(out.String())
	if err != nil {
		return Result{Output: captured, Error: err.Error()}
	}
	return Result{Passed: true, Output: captured}
}

func runApprovalGate(ctx context.Context, g Gate, approve Approver) Result {
	requiresApproval := g.Config.RequiresApproval
	if g.Feature != nil && !requiresApproval {
		requiresApproval = g.Feature.RequiresApproval
	}
	if !requiresApproval {
		return Result{Passed: true}
	}
	if approve == nil {
		return Result{Error: "approval required but no approver configured"}
	}
	ok, err := approve(ctx, g.Feature)
	if err != nil {
		return Result{Error: err.Error()}
	}
	if !ok {
		return Result{Error: "manual approval denied"}
	}
	return Result{Passed: true}
}

// featureCategory reports the feature's category for the hook's
// ADA_FEATURE_CATEGORY env var, defaulting to "functional" when unset.
func featureCategory(f *types.Feature) string {
	if f.Category != "" {
		return string(f.Category)
	}
	return string(types.CategoryFunctional)
}

func truncate(s string) string {
	if len(s) <= maxCapturedOutput {
		return s
	}
	return s[len(s)-maxCapturedOutput:]
}

// MatchesE2EFilter reports whether a test identifier matches a feature's
// configured e2e_filter doublestar glob. An empty filter matches everything.
func MatchesE2EFilter(filter, testID string) bool {
	if filter == "" {
		return true
	}
	ok, err := doublestar.Match(filter, testID)
	return err == nil && ok
}

// ParseCommand parses a gate's shell command string into shell words,
// surfacing a syntax error before the gate is ever executed rather than
// letting a malformed command fail opaquely inside `sh -c`.
func ParseCommand(command string) ([]string, error) {
	cmds, err := parseBash(command)
	if err != nil {
		return nil, err
	}
	var words []string
	for _, c := range cmds {
		words = append(words, c.Name)
		words = append(words, c.Args...)
	}
	return words, nil
}
