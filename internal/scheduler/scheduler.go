// Package scheduler drives the harness loop: pick a feature, run a session,
// verify it, retry or block on failure, and repeat until the backlog drains
// or shutdown is requested.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adaharness/ada/internal/backlog"
	"github.com/adaharness/ada/internal/checkpoint"
	"github.com/adaharness/ada/internal/classify"
	"github.com/adaharness/ada/internal/event"
	"github.com/adaharness/ada/internal/progress"
	"github.com/adaharness/ada/internal/retry"
	"github.com/adaharness/ada/internal/runtime"
	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/internal/vcs"
	"github.com/adaharness/ada/internal/verify"
	"github.com/adaharness/ada/pkg/types"
)

// Clock abstracts time.Now/time.Sleep so tests can run the loop without
// real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration)
}

// SystemClock is the real-time Clock used in production.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// HarnessContext bundles everything the Scheduler needs, threaded
// explicitly from cmd/ada rather than read off package-level globals.
type HarnessContext struct {
	WorkDir     string
	Config      *types.Config
	Transport   runtime.AgentTransport
	PromptFunc  func(f *types.Feature, attempt int) string
	GateBuilder func(f *types.Feature) []verify.Gate
	Approve     verify.Approver
	Clock       Clock
	Logger      zerolog.Logger
	RetryPolicy retry.Policy

	// GracePeriod overrides the default 120s shutdown grace window; zero
	// keeps the default. Mainly useful for tests that need a shutdown to
	// resolve in real time.
	GracePeriod time.Duration
}

// Scheduler owns the harness loop for one project.
type Scheduler struct {
	hc HarnessContext

	backlog    *backlog.Store
	checkpoint *checkpoint.Store
	progress   *progress.Log
	sessions   *sessionlog.Logger

	promptTemplate *PromptTemplate

	gracePeriod time.Duration

	shutdownOnce   sync.Once
	shutdownSignal chan struct{}
	shutdownMu     sync.Mutex
	shutdownReason string
}

// New constructs a Scheduler over hc's project directory.
func New(hc HarnessContext) *Scheduler {
	if hc.Clock == nil {
		hc.Clock = SystemClock{}
	}
	dotAda := filepath.Join(hc.WorkDir, ".ada")
	grace := 120 * time.Second
	if hc.GracePeriod > 0 {
		grace = hc.GracePeriod
	}
	tpl, err := loadPromptTemplate(hc.WorkDir)
	if err != nil {
		hc.Logger.Warn().Err(err).Msg("ignoring malformed prompt template")
		tpl = nil
	}
	return &Scheduler{
		hc:             hc,
		backlog:        backlog.NewStore(dotAda),
		checkpoint:     checkpoint.NewStore(dotAda),
		progress:       progress.NewLog(dotAda),
		sessions:       sessionlog.NewLogger(dotAda),
		promptTemplate: tpl,
		gracePeriod:    grace,
		shutdownSignal: make(chan struct{}),
	}
}

// RequestShutdown asks the loop to wind down gracefully: a session already
// running gets up to the grace period to commit or hand off before its
// context is cancelled outright; a session not yet started never begins.
func (s *Scheduler) RequestShutdown(reason string) {
	s.shutdownMu.Lock()
	s.shutdownReason = reason
	s.shutdownMu.Unlock()
	s.shutdownOnce.Do(func() { close(s.shutdownSignal) })
}

func (s *Scheduler) shutdownRequested() (bool, string) {
	select {
	case <-s.shutdownSignal:
		s.shutdownMu.Lock()
		defer s.shutdownMu.Unlock()
		return true, s.shutdownReason
	default:
		return false, ""
	}
}

// watchForShutdown cancels cancel after the grace period once shutdown is
// requested, giving the in-flight session a bounded window to wrap up on
// its own; it returns a stop func to release the watcher once the session
// ends on its own.
func (s *Scheduler) watchForShutdown(cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-s.shutdownSignal:
		case <-done:
			return
		}
		t := time.NewTimer(s.gracePeriod)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// PreflightError categorizes why the scheduler refused to start.
type PreflightError struct {
	Reason string
}

func (e *PreflightError) Error() string { return "preflight: " + e.Reason }

// FatalBacklogError reports a backlog that can never make further
// progress: one or more pending/in_progress features remain, but none of
// them was selectable, meaning their dependencies are unmet and nothing
// left running can ever satisfy them. Distinct from a drained backlog,
// where no pending/in_progress features remain at all.
type FatalBacklogError struct {
	FeatureIDs []string
}

func (e *FatalBacklogError) Error() string {
	return fmt.Sprintf("fatal backlog error: feature(s) stuck on unmet dependencies: %v", e.FeatureIDs)
}

// preflight checks, in order, that the workdir is a usable VCS checkout,
// the backlog loads, and the agent transport is configured, first failure
// wins.
func (s *Scheduler) preflight(ctx context.Context) error {
	if _, err := vcs.Status(s.hc.WorkDir); err != nil {
		return &PreflightError{Reason: fmt.Sprintf("vcs not usable: %v", err)}
	}
	if _, err := s.backlog.Load(ctx); err != nil {
		return &PreflightError{Reason: fmt.Sprintf("backlog does not load: %v", err)}
	}
	if s.hc.Transport == nil {
		return &PreflightError{Reason: "no agent transport configured"}
	}
	return nil
}

// maybeResumeFromCheckpoint logs (but does not itself mutate the backlog
// beyond what AttemptFor already implies) the in-flight feature a prior
// crashed run left behind, so the first loop iteration picks up the same
// attempt count instead of restarting at zero.
func (s *Scheduler) maybeResumeFromCheckpoint(ctx context.Context) {
	cp, err := s.checkpoint.Load(ctx)
	if err != nil || cp.FeatureID == "" {
		return
	}
	s.hc.Logger.Info().
		Str("feature_id", cp.FeatureID).
		Int("attempt", cp.Attempt).
		Msg("resuming from checkpoint")
}

// Run drives the harness loop until the backlog drains, shutdown is
// requested, or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.preflight(ctx); err != nil {
		return err
	}
	s.maybeResumeFromCheckpoint(ctx)

	event.Publish(event.Event{Type: event.StatusUpdated, Data: event.StatusUpdatedData{State: "running"}})

	for {
		if requested, reason := s.shutdownRequested(); requested {
			return s.gracefulShutdown(ctx, nil, reason)
		}
		select {
		case <-ctx.Done():
			return s.gracefulShutdown(context.Background(), nil, "context cancelled")
		default:
		}

		b, err := s.backlog.Load(ctx)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		f := backlog.SelectNext(b)
		if f == nil {
			if stuck := backlog.RunnableBlockedIDs(b); len(stuck) > 0 {
				return &FatalBacklogError{FeatureIDs: stuck}
			}
			return s.gracefulShutdown(ctx, nil, "backlog drained")
		}
		if f.Status == types.StatusPending {
			f.Status = types.StatusInProgress
		}

		interrupted, reason, err := s.runFeature(ctx, b, f)
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		if interrupted {
			return s.gracefulShutdown(ctx, f, reason)
		}

		if err := s.backlog.Save(ctx, b); err != nil {
			return fmt.Errorf("scheduler: save backlog: %w", err)
		}
		event.Publish(event.Event{Type: event.BacklogUpdated, Data: event.BacklogUpdatedData{FeatureCount: len(b.Features)}})
	}
}

// runFeature drives the retry loop for one selected feature (§4.11's inner
// while loop), mutating f in place. It returns (true, reason, nil) if the
// loop was interrupted by a shutdown request mid-attempt.
func (s *Scheduler) runFeature(ctx context.Context, b *types.Backlog, f *types.Feature) (bool, string, error) {
	attempt, err := s.checkpoint.AttemptFor(ctx, f.ID)
	if err != nil {
		return false, "", err
	}
	maxRetries := s.hc.RetryPolicy.MaxRetries

	for attempt <= maxRetries {
		if requested, reason := s.shutdownRequested(); requested {
			return true, reason, nil
		}

		lastGood, _ := vcs.HeadCommit(s.hc.WorkDir)
		if err := s.checkpoint.Save(ctx, f.ID, attempt, lastGood, "", s.hc.Clock.Now()); err != nil {
			return false, "", err
		}

		event.Publish(event.Event{Type: event.StatusUpdated, Data: event.StatusUpdatedData{
			State: "running", FeatureID: f.ID, Attempt: attempt,
		}})

		sessionID := sessionlog.NewSessionID()
		f.LastSessionID = sessionID
		s.appendProgress(f, types.ProgressSessionStart, s.hc.Clock.Now(), fmt.Sprintf("starting %s (attempt %d)", f.Title, attempt), "")
		prompt := s.renderPrompt(f, attempt)
		opts := runtime.DefaultOptions()
		if s.hc.Config.SessionTimeoutSeconds > 0 {
			opts.HardTimeout = time.Duration(s.hc.Config.SessionTimeoutSeconds) * time.Second
		}
		if s.hc.Config.StallTimeoutSeconds > 0 {
			opts.StallTimeout = time.Duration(s.hc.Config.StallTimeoutSeconds) * time.Second
		}
		opts.ContextWindowTokens = s.hc.Config.ContextWindowTokens
		if s.hc.Config.ContextThresholdPct > 0 {
			opts.ContextThreshold = s.hc.Config.ContextThresholdPct
		}

		model := f.ModelOverride
		if model == "" {
			model = s.hc.Config.Model
		}

		started := s.hc.Clock.Now()
		event.Publish(event.Event{Type: event.SessionStarted, Data: event.SessionStartedData{
			Session: &types.SessionRecord{ID: sessionID, FeatureID: f.ID, Attempt: attempt, Agent: "ada", Model: model, StartedAt: started.Unix()},
		}})

		fileName := sessionlog.FileName(started, attempt, model, f.ID)
		writer, werr := s.sessions.Create(fileName)
		var onEvent func(runtime.Frame)
		if werr == nil {
			onEvent = func(fr runtime.Frame) {
				_ = writer.Append(sessionlog.EventLine{Type: string(fr.Kind), Timestamp: s.hc.Clock.Now().Unix()})
				if fr.Kind == runtime.FrameUsageUpdate && fr.Usage != nil {
					event.Publish(event.Event{Type: event.CostUpdate, Data: event.CostUpdateData{
						FeatureID: f.ID, SessionID: sessionID, EstimatedCostUSD: fr.Usage.EstimatedCostUSD,
					}})
					event.Publish(event.Event{Type: event.StatusUpdated, Data: event.StatusUpdatedData{
						State: "running", FeatureID: f.ID, Attempt: attempt, ContextUsagePct: fr.ContextUsagePct,
					}})
				}
			}
		}

		sessionCtx, cancelSession := context.WithCancel(ctx)
		stopWatch := s.watchForShutdown(cancelSession)
		result := runtime.Run(sessionCtx, s.hc.Transport, runtime.Request{FeatureID: f.ID, Prompt: prompt, Model: model}, opts, onEvent)
		stopWatch()
		cancelSession()
		var sizeBytes int64
		if writer != nil {
			_ = writer.Close()
			if sz, err := writer.Size(); err == nil {
				sizeBytes = sz
			}
		}

		f.SessionsSpent++

		record := types.SessionRecord{
			ID: sessionID, FeatureID: f.ID, Attempt: attempt, Agent: "ada", Model: model,
			StartedAt: started.Unix(), EndedAt: s.hc.Clock.Now().Unix(),
			Outcome: result.Outcome, Turns: result.Turns, Usage: result.Usage,
			HandoffNotes: result.HandoffNotes, CompletionSeen: result.CompletionSeen,
		}
		if result.Err != nil {
			record.Error = result.Err.Error()
		}
		_ = s.sessions.Finalize(sessionlog.IndexEntry{
			ID: sessionID, File: fileName,
			Agent: "ada", FeatureID: f.ID, Model: model, Attempt: attempt,
			StartedAt: record.StartedAt, EndedAt: record.EndedAt,
			Outcome: result.Outcome, Turns: result.Turns, Usage: result.Usage,
			SizeBytes: sizeBytes,
		})
		event.PublishSync(event.Event{Type: event.SessionEnded, Data: event.SessionEndedData{Session: &record}})
		if _, err := s.sessions.MaybeArchive(s.hc.Clock.Now()); err != nil {
			s.hc.Logger.Warn().Err(err).Msg("session archive rotation failed")
		}

		if result.Outcome == types.OutcomeCancelled {
			if requested, reason := s.shutdownRequested(); requested {
				return true, reason, nil
			}
		}

		done, blockedNow, err := s.handleOutcome(ctx, f, &attempt, result)
		if err != nil {
			return false, "", err
		}
		if done {
			break
		}
		if blockedNow {
			break
		}
	}
	return false, "", nil
}

// handleOutcome implements the switch over r.outcome in §4.11's pseudocode,
// returns (done, blocked, err); done means the feature's attempt loop
// should stop (success, handoff, or blocked), blocked is true specifically
// when the feature was just marked blocked.
func (s *Scheduler) handleOutcome(ctx context.Context, f *types.Feature, attempt *int, r runtime.Result) (bool, bool, error) {
	now := s.hc.Clock.Now()

	switch r.Outcome {
	case types.OutcomeSuccess:
		gates := s.hc.GateBuilder(f)
		vr := verify.Run(ctx, s.hc.WorkDir, gates, s.hc.Approve)
		if vr.Passed {
			if _, err := vcs.CommitAll(s.hc.WorkDir, fmt.Sprintf("complete: %s (%s)", f.Title, f.ID)); err != nil {
				return false, false, err
			}
			f.Status = types.StatusCompleted
			_ = s.checkpoint.Clear(ctx)
			s.appendProgress(f, types.ProgressSessionEnd, now, fmt.Sprintf("%s completed", f.Title), "")
			event.PublishSync(event.Event{Type: event.FeatureUpdated, Data: event.FeatureUpdatedData{Feature: f}})
			return true, false, nil
		}
		*attempt++
		s.annotateVerificationFailure(f.LastSessionID, vr)
		s.appendProgress(f, types.ProgressSessionEnd, now, fmt.Sprintf("verification failed: gate %s", vr.FailedGate), vr.Output)
		return false, false, nil

	case types.OutcomeHandoff:
		if _, err := vcs.CommitAll(s.hc.WorkDir, "handoff: "+r.HandoffNotes); err != nil {
			return false, false, err
		}
		s.appendProgress(f, types.ProgressHandoff, now, "handoff before completion", r.HandoffNotes)
		return true, false, nil

	default: // timeout, stalled, agent_crash, cancelled, verification_failed from runtime itself
		cat := classify.Classify(r.Err, r.ExitCode, "")
		if !cat.Retryable || *attempt >= s.hc.RetryPolicy.MaxRetries {
			f.Status = types.StatusBlocked
			f.BlockedReason = cat.HumanMessage
			if f.BlockedReason == "" {
				f.BlockedReason = string(cat.Category)
			}
			f.ImplementationNotes = append(f.ImplementationNotes, fmt.Sprintf("blocked after attempt %d: %s", *attempt, f.BlockedReason))
			s.appendProgress(f, types.ProgressSessionEnd, now, fmt.Sprintf("blocked: %s", f.BlockedReason), "")
			event.PublishSync(event.Event{Type: event.FeatureUpdated, Data: event.FeatureUpdatedData{Feature: f}})
			return true, true, nil
		}
		delay := s.hc.RetryPolicy.Delay(*attempt, cat.Category)
		s.hc.Clock.Sleep(ctx, delay)
		*attempt++
		return false, false, nil
	}
}

// annotateVerificationFailure records which gate rejected an
// apparently-successful session onto its already-finalized index entry, so
// the dashboard can show why a success outcome didn't complete the
// feature.
func (s *Scheduler) annotateVerificationFailure(sessionID string, vr verify.Result) {
	entries, err := s.sessions.List()
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.ID != sessionID {
			continue
		}
		e.VerificationFailedGate = string(vr.FailedGate)
		e.VerificationOutput = vr.Output
		_ = s.sessions.Finalize(e)
		return
	}
}

func (s *Scheduler) renderPrompt(f *types.Feature, attempt int) string {
	if s.hc.PromptFunc != nil {
		return s.hc.PromptFunc(f, attempt)
	}
	body := fmt.Sprintf("%s\n\n%s", f.Title, f.Description)
	if s.promptTemplate == nil {
		return body
	}
	if header := s.promptTemplate.header(f); header != "" {
		body = header + "\n\n" + body
	}
	if s.promptTemplate.Footer != "" {
		body = body + "\n\n" + s.promptTemplate.Footer
	}
	return body
}

func (s *Scheduler) appendProgress(f *types.Feature, kind types.ProgressKind, now time.Time, summary, notes string) {
	entry := types.ProgressEntry{
		Kind: kind, FeatureID: f.ID, SessionID: f.LastSessionID, Summary: summary, Notes: notes,
	}
	if written, err := s.progress.Append(entry, now); err == nil {
		event.Publish(event.Event{Type: event.ProgressUpdate, Data: event.ProgressUpdateData{Entry: &written}})
	}
}

// gracefulShutdown persists final state and reports why the loop stopped.
// f is the feature in flight when shutdown was requested, or nil when the
// loop stopped between features (backlog drained, or at the top of the
// select).
func (s *Scheduler) gracefulShutdown(ctx context.Context, f *types.Feature, reason string) error {
	event.Publish(event.Event{Type: event.StatusUpdated, Data: event.StatusUpdatedData{State: "shutting_down"}})

	now := s.hc.Clock.Now()
	if f != nil {
		entry := types.ProgressEntry{Kind: types.ProgressSessionEnd, FeatureID: f.ID, Summary: "interrupted: " + reason}
		_, _ = s.progress.Append(entry, now)
	} else {
		entry := types.ProgressEntry{Kind: types.ProgressSessionEnd, Summary: reason}
		_, _ = s.progress.Append(entry, now)
	}

	event.Publish(event.Event{Type: event.StatusUpdated, Data: event.StatusUpdatedData{State: "idle"}})
	s.hc.Logger.Info().Str("reason", reason).Msg("scheduler stopped")
	return nil
}
