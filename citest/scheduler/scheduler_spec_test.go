package scheduler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"

	"github.com/adaharness/ada/citest/testutil"
	"github.com/adaharness/ada/internal/event"
	"github.com/adaharness/ada/internal/retry"
	"github.com/adaharness/ada/internal/runtime"
	"github.com/adaharness/ada/internal/telemetry"
	"github.com/adaharness/ada/internal/verify"
	"github.com/adaharness/ada/pkg/types"
)

func seedBacklog(h *testutil.Harness, features ...types.Feature) {
	ctx := context.Background()
	b, err := h.Backlog.Load(ctx)
	Expect(err).NotTo(HaveOccurred())
	b.Features = append(b.Features, features...)
	Expect(h.Backlog.Save(ctx, b)).To(Succeed())
}

// awaitRunning subscribes to status.updated and returns a func that blocks
// until the scheduler reports it has started an attempt on featureID, so a
// test can request shutdown knowing a session is actually in flight rather
// than racing the scheduler's own startup.
func awaitRunning(featureID string) (wait func()) {
	ch := make(chan struct{}, 1)
	unsub := event.Subscribe(event.StatusUpdated, func(e event.Event) {
		data, ok := e.Data.(event.StatusUpdatedData)
		if ok && data.FeatureID == featureID && data.State == "running" {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	return func() {
		defer unsub()
		Eventually(ch, 2*time.Second).Should(Receive())
	}
}

var _ = Describe("Happy path", func() {
	It("completes a dependency-free feature in one session", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(testutil.Script{
			Frames: []runtime.Frame{
				testutil.MessageFrame("working on F1"),
				testutil.CompletionFrame("AC1"),
			},
			Edit: func() error { return testutil.WriteFile(dir, "f1.txt", "done\n") },
		})

		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F1", Title: "Feature One", Status: types.StatusPending, Priority: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Features[0].Status).To(Equal(types.StatusCompleted))

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Outcome).To(Equal(types.OutcomeSuccess))

		count, err := testutil.CommitCount(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2)) // fixture's initial commit + completion commit

		msg, err := testutil.LastCommitMessage(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(msg).To(ContainSubstring("F1"))

		progressText, err := h.Progress.TailBytes(64)
		Expect(err).NotTo(HaveOccurred())
		Expect(progressText).To(ContainSubstring("starting"))
		Expect(progressText).To(ContainSubstring("completed"))
	})
})

var _ = Describe("Handoff then completion", func() {
	It("commits a handoff and finishes on the following session", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(
			testutil.Script{
				Frames: []runtime.Frame{
					testutil.MessageFrame("getting started"),
					testutil.UsageFrame(7200, 100, 7200, 0.10, 0, 0),
				},
				Edit: func() error { return testutil.WriteFile(dir, "f2_partial.txt", "partial\n") },
			},
			testutil.Script{
				Frames: []runtime.Frame{
					testutil.MessageFrame("finishing up"),
					testutil.CompletionFrame("AC1"),
				},
				Edit: func() error { return testutil.WriteFile(dir, "f2_final.txt", "final\n") },
			},
		)

		cfg := &types.Config{Model: "test-model", ContextWindowTokens: 10000}
		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{Config: cfg})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F2", Title: "Feature Two", Status: types.StatusPending, Priority: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Features[0].Status).To(Equal(types.StatusCompleted))
		Expect(b.Features[0].SessionsSpent).To(Equal(2))

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		// List returns most-recently-started first.
		Expect(entries[0].Outcome).To(Equal(types.OutcomeSuccess))
		Expect(entries[1].Outcome).To(Equal(types.OutcomeHandoff))

		count, err := testutil.CommitCount(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(3)) // initial + handoff + completion

		calls := transport.Calls()
		Expect(calls).To(HaveLen(2))

		cp, err := h.Checkpoint.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		// the completion attempt clears the checkpoint, so nothing is left
		// recorded for F2 once it is completed.
		Expect(cp.FeatureID).To(BeEmpty())
	})
})

var _ = Describe("Retry on transient error", func() {
	It("retries once after a transient failure and then succeeds", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(
			testutil.Script{
				Frames: []runtime.Frame{
					testutil.MessageFrame("hit a snag"),
					testutil.ErrorFrame("connection reset by peer"),
				},
			},
			testutil.Script{
				Frames: []runtime.Frame{
					testutil.MessageFrame("retried ok"),
					testutil.CompletionFrame("AC1"),
				},
			},
		)

		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F3", Title: "Feature Three", Status: types.StatusPending, Priority: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Features[0].Status).To(Equal(types.StatusCompleted))

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))
		// List returns most-recently-started first.
		Expect(entries[0].Outcome).To(Equal(types.OutcomeSuccess))
		Expect(entries[1].Outcome).To(Equal(types.OutcomeAgentCrash))

		sleeps := h.Clock.Sleeps()
		Expect(sleeps).To(HaveLen(1))
		lo, _ := retry.DefaultPolicy().ByCategory["transient"].Bounds(0)
		Expect(sleeps[0]).To(BeNumerically(">=", lo))
	})
})

var _ = Describe("Retry exhaustion", func() {
	It("blocks the feature after exhausting retries and raises an alert", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		crashScript := testutil.Script{
			Frames: []runtime.Frame{
				testutil.MessageFrame("crashing"),
				testutil.ErrorFrame("connection reset by peer"),
			},
		}
		transport := testutil.NewScriptedTransport(crashScript, crashScript, crashScript, crashScript)

		policy := retry.DefaultPolicy()
		policy.MaxRetries = 3
		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{RetryPolicy: &policy})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F4", Title: "Feature Four", Status: types.StatusPending, Priority: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Features[0].Status).To(Equal(types.StatusBlocked))
		Expect(b.Features[0].BlockedReason).NotTo(BeEmpty())

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(4)) // initial attempt + 3 retries

		alertList, err := h.Alerts.List(context.Background(), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(alertList).To(ContainElement(WithTransform(func(a types.Alert) types.AlertSeverity {
			return a.Severity
		}, Equal(types.SeverityError))))
	})
})

var _ = Describe("Verification gate failure", func() {
	It("leaves the feature in progress and names the failing gate", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(testutil.Script{
			Frames: []runtime.Frame{
				testutil.MessageFrame("done, I think"),
				testutil.CompletionFrame("AC1"),
			},
			Edit: func() error { return testutil.WriteFile(dir, "f5.txt", "broken\n") },
		})

		gateBuilder := func(f *types.Feature) []verify.Gate {
			return []verify.Gate{
				{Kind: verify.GateUnit, Config: types.GateConfig{Command: "exit 1"}, Feature: f},
			}
		}
		// Cap retries at zero: a verification-gate failure isn't an agent
		// failure the retry policy should chase, just one attempt whose
		// outcome this test inspects directly.
		policy := retry.DefaultPolicy()
		policy.MaxRetries = 0

		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{GateBuilder: gateBuilder, RetryPolicy: &policy})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F5", Title: "Feature Five", Status: types.StatusPending, Priority: 10})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(b.Features[0].Status).To(Equal(types.StatusInProgress))
		Expect(b.Features[0].SessionsSpent).To(Equal(1))

		count, err := testutil.CommitCount(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1)) // only the fixture's initial commit, no completion commit

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].VerificationFailedGate).To(Equal(string(verify.GateUnit)))
	})
})

var _ = Describe("Dependency ordering", func() {
	It("selects A before B until A completes", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(
			testutil.Script{Frames: []runtime.Frame{testutil.CompletionFrame("AC1")}},
			testutil.Script{Frames: []runtime.Frame{testutil.CompletionFrame("AC1")}},
		)

		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{})
		defer h.Close()
		seedBacklog(h,
			types.Feature{ID: "B", Title: "B", Status: types.StatusPending, Priority: 10, DependsOn: []string{"A"}},
			types.Feature{ID: "A", Title: "A", Status: types.StatusPending, Priority: 5},
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		calls := transport.Calls()
		Expect(calls).To(HaveLen(2))
		Expect(calls[0].FeatureID).To(Equal("A"))
		Expect(calls[1].FeatureID).To(Equal("B"))

		b, err := h.Backlog.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		for _, f := range b.Features {
			Expect(f.Status).To(Equal(types.StatusCompleted))
		}
	})
})

var _ = Describe("Graceful shutdown mid-session", func() {
	It("finishes the loop as interrupted once shutdown is requested", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(testutil.Script{
			Frames: []runtime.Frame{
				testutil.MessageFrame("turn 1"),
				testutil.MessageFrame("turn 2"),
				testutil.MessageFrame("turn 3"),
				testutil.MessageFrame("turn 4"),
				testutil.MessageFrame("turn 5"),
			},
			Block: true,
		})

		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{GracePeriod: 50 * time.Millisecond})
		defer h.Close()
		seedBacklog(h, types.Feature{ID: "F7", Title: "Feature Seven", Status: types.StatusPending, Priority: 10})

		wait := awaitRunning("F7")

		ctx := context.Background()
		done := make(chan error, 1)
		go func() { done <- h.Scheduler.Run(ctx) }()

		wait()
		h.Scheduler.RequestShutdown("interrupted by user")

		Eventually(done, 5*time.Second).Should(Receive(BeNil()))

		entries, err := h.Sessions.List()
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Outcome).To(Equal(types.OutcomeCancelled))

		cp, err := h.Checkpoint.Load(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(cp.FeatureID).To(Equal("F7"))
	})
})

var _ = Describe("Cost aggregation", func() {
	It("sums per-model and total token/cost figures over the telemetry API", func() {
		dir, err := testutil.NewGitRepo()
		Expect(err).NotTo(HaveOccurred())

		transport := testutil.NewScriptedTransport(
			testutil.Script{Frames: []runtime.Frame{
				testutil.UsageFrame(1000, 500, 1000, 1.5, 100, 20),
				testutil.CompletionFrame("AC1"),
			}},
			testutil.Script{Frames: []runtime.Frame{
				testutil.UsageFrame(2000, 200, 2000, 2.5, 50, 10),
				testutil.CompletionFrame("AC1"),
			}},
		)

		cfg1 := &types.Config{Model: "M1"}
		h := testutil.NewHarness(dir, transport, testutil.HarnessOptions{Config: cfg1})
		defer h.Close()
		seedBacklog(h,
			types.Feature{ID: "G1", Title: "G1", Status: types.StatusPending, Priority: 10, ModelOverride: "M1"},
			types.Feature{ID: "G2", Title: "G2", Status: types.StatusPending, Priority: 5, ModelOverride: "M2"},
		)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Expect(h.Scheduler.Run(ctx)).To(Succeed())

		telSrv := telemetry.New(telemetry.DefaultConfig(), dir, h.Backlog, h.Checkpoint, h.Progress, h.Sessions, h.Alerts, zerolog.Nop())

		req := httptest.NewRequest(http.MethodGet, "/api/sessions/costs", nil)
		rec := httptest.NewRecorder()
		telSrv.Router().ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusOK))

		var body struct {
			ByModel []struct {
				Model            string  `json:"model"`
				InputTokens      int64   `json:"input_tokens"`
				OutputTokens     int64   `json:"output_tokens"`
				CacheReadTokens  int64   `json:"cache_read_tokens"`
				CacheWriteTokens int64   `json:"cache_write_tokens"`
				Cost             float64 `json:"estimated_cost_usd"`
			} `json:"by_model"`
			TotalSessions    int     `json:"total_sessions"`
			InputTokens      int64   `json:"input_tokens"`
			OutputTokens     int64   `json:"output_tokens"`
			CacheReadTokens  int64   `json:"cache_read_tokens"`
			CacheWriteTokens int64   `json:"cache_write_tokens"`
			Cost             float64 `json:"estimated_cost_usd"`
		}
		Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())

		Expect(body.TotalSessions).To(Equal(2))
		Expect(body.InputTokens).To(Equal(int64(3000)))
		Expect(body.OutputTokens).To(Equal(int64(700)))
		Expect(body.CacheReadTokens).To(Equal(int64(150)))
		Expect(body.CacheWriteTokens).To(Equal(int64(30)))
		Expect(body.Cost).To(BeNumerically("~", 4.0, 0.0001))

		byModel := map[string]int64{}
		byModelCacheRead := map[string]int64{}
		for _, mc := range body.ByModel {
			byModel[mc.Model] = mc.InputTokens
			byModelCacheRead[mc.Model] = mc.CacheReadTokens
		}
		Expect(byModel["M1"]).To(Equal(int64(1000)))
		Expect(byModel["M2"]).To(Equal(int64(2000)))
		Expect(byModelCacheRead["M1"]).To(Equal(int64(100)))
		Expect(byModelCacheRead["M2"]).To(Equal(int64(50)))

		req2 := httptest.NewRequest(http.MethodGet, "/api/sessions/costs?days=0", nil)
		rec2 := httptest.NewRecorder()
		telSrv.Router().ServeHTTP(rec2, req2)
		Expect(rec2.Code).To(Equal(http.StatusOK))
	})
})
