package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// ErrCoverageUnparseable is returned (wrapped into Result.Error) when a
// coverage report's shape matches neither of the two recognized summary
// forms.
const ErrCoverageUnparseable = "CoverageUnparseable"

// runCoverageGate runs the configured coverage command (if any), then
// parses cfg.CoveragePath and compares the resulting percentage against
// cfg.MinCoveragePct.
func runCoverageGate(ctx context.Context, workDir string, g Gate) Result {
	if g.Config.Command != "" {
		shellResult := runShellGate(ctx, workDir, g.Config)
		if !shellResult.Passed {
			return shellResult
		}
	}

	if g.Config.CoveragePath == "" {
		return Result{Passed: true}
	}

	pct, err := parseCoverageReport(g.Config.CoveragePath)
	if err != nil {
		return Result{Error: err.Error()}
	}

	if pct < g.Config.MinCoveragePct {
		return Result{Error: fmt.Sprintf("coverage %.2f%% below threshold %.2f%%", pct, g.Config.MinCoveragePct)}
	}
	return Result{Passed: true, Output: fmt.Sprintf("coverage %.2f%%", pct)}
}

// coverageRootShape is a total/percent object at the document root, e.g.
// {"total": 120, "covered": 90, "percent": 75.0}.
type coverageRootShape struct {
	Percent *float64 `json:"percent"`
	Pct     *float64 `json:"pct"`
}

// coverageKeyedShape is a keyed report with a "total.lines.pct" (or
// equivalent) path, e.g. {"total": {"lines": {"pct": 75.0}}}.
type coverageKeyedShape struct {
	Total struct {
		Lines struct {
			Pct *float64 `json:"pct"`
		} `json:"lines"`
		Pct *float64 `json:"pct"`
	} `json:"total"`
}

func parseCoverageReport(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading coverage report: %w", err)
	}

	var root coverageRootShape
	if err := json.Unmarshal(data, &root); err == nil {
		if root.Percent != nil {
			return *root.Percent, nil
		}
		if root.Pct != nil {
			return *root.Pct, nil
		}
	}

	var keyed coverageKeyedShape
	if err := json.Unmarshal(data, &keyed); err == nil {
		if keyed.Total.Lines.Pct != nil {
			return *keyed.Total.Lines.Pct, nil
		}
		if keyed.Total.Pct != nil {
			return *keyed.Total.Pct, nil
		}
	}

	return 0, fmt.Errorf("%s: %s", ErrCoverageUnparseable, path)
}
