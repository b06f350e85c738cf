package testutil

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/adaharness/ada/internal/alerts"
	"github.com/adaharness/ada/internal/backlog"
	"github.com/adaharness/ada/internal/checkpoint"
	"github.com/adaharness/ada/internal/progress"
	"github.com/adaharness/ada/internal/retry"
	"github.com/adaharness/ada/internal/runtime"
	"github.com/adaharness/ada/internal/scheduler"
	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/internal/verify"
	"github.com/adaharness/ada/pkg/types"
)

// Harness bundles a Scheduler with direct handles to the stores it reads
// and writes, so a spec can assert on persisted state without going
// through the telemetry API.
type Harness struct {
	Scheduler  *scheduler.Scheduler
	WorkDir    string
	Backlog    *backlog.Store
	Checkpoint *checkpoint.Store
	Progress   *progress.Log
	Sessions   *sessionlog.Logger
	Alerts     *alerts.Store
	Clock      *FakeClock

	unsubAlerts func()
}

// HarnessOptions configures NewHarness beyond its required arguments. Zero
// values are sensible defaults: no gates, auto-approve, the library's
// default retry policy.
type HarnessOptions struct {
	Config      *types.Config
	GateBuilder func(f *types.Feature) []verify.Gate
	Approve     verify.Approver
	GracePeriod time.Duration
	RetryPolicy *retry.Policy
}

// NewHarness wires a Scheduler over a fresh .ada directory under dir,
// backed by transport, with every auxiliary store reachable for
// assertions. The returned Harness's Alerts store is already subscribed to
// the event bus; call Close when done to unsubscribe.
func NewHarness(dir string, transport runtime.AgentTransport, opts HarnessOptions) *Harness {
	dotAda := filepath.Join(dir, ".ada")

	cfg := opts.Config
	if cfg == nil {
		cfg = &types.Config{Model: "test-model"}
	}
	gateBuilder := opts.GateBuilder
	if gateBuilder == nil {
		gateBuilder = func(f *types.Feature) []verify.Gate { return nil }
	}
	approve := opts.Approve
	if approve == nil {
		approve = func(_ context.Context, _ *types.Feature) (bool, error) { return true, nil }
	}
	retryPolicy := retry.DefaultPolicy()
	if opts.RetryPolicy != nil {
		retryPolicy = *opts.RetryPolicy
	}

	clock := NewFakeClock(time.Unix(1700000000, 0), time.Second)

	h := &Harness{
		WorkDir:    dir,
		Backlog:    backlog.NewStore(dotAda),
		Checkpoint: checkpoint.NewStore(dotAda),
		Progress:   progress.NewLog(dotAda),
		Sessions:   sessionlog.NewLogger(dotAda),
		Alerts:     alerts.NewStore(dotAda),
		Clock:      clock,
	}
	h.unsubAlerts = h.Alerts.Subscribe()

	h.Scheduler = scheduler.New(scheduler.HarnessContext{
		WorkDir:     dir,
		Config:      cfg,
		Transport:   transport,
		GateBuilder: gateBuilder,
		Approve:     approve,
		Clock:       clock,
		Logger:      zerolog.Nop(),
		RetryPolicy: retryPolicy,
		GracePeriod: opts.GracePeriod,
	})
	return h
}

// Close unsubscribes the harness's alert store from the event bus.
func (h *Harness) Close() {
	if h.unsubAlerts != nil {
		h.unsubAlerts()
	}
}
