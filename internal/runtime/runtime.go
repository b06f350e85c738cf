// Package runtime drives one coding-agent session to a terminal outcome: it
// launches (or dials) the agent via a pluggable AgentTransport, forwards
// every transcript frame to a sink, and tracks turns, token usage, context
// budget, stalls, and the hard wall-clock timeout.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/adaharness/ada/pkg/types"
)

// FrameKind names one of the agent transcript's event shapes.
type FrameKind string

const (
	FrameMessage          FrameKind = "message"
	FrameToolCall         FrameKind = "tool_call"
	FrameToolResult       FrameKind = "tool_result"
	FrameUsageUpdate      FrameKind = "usage_update"
	FrameCompletionSignal FrameKind = "completion_signal"
	FrameError            FrameKind = "error"
)

// Frame is one line of the agent's transcript, decoded from whichever
// transport produced it.
type Frame struct {
	Kind                  FrameKind    `json:"kind"`
	Role                  string       `json:"role,omitempty"` // "assistant" | "user" | "tool"
	Text                  string       `json:"text,omitempty"`
	Usage                 *types.Usage `json:"usage,omitempty"`
	AcceptanceCriteriaMet []string     `json:"acceptance_criteria_met,omitempty"`
	Error                 string       `json:"error,omitempty"`

	// ContextUsagePct is filled in by Run for FrameUsageUpdate frames (the
	// transport never sets it) so callers observing onEvent can report the
	// same estimate Run uses to decide on a handoff.
	ContextUsagePct float64 `json:"context_usage_pct,omitempty"`
}

// Request is what the runtime asks the transport to run.
type Request struct {
	FeatureID string
	Prompt    string
	Model     string
}

// Session is a running agent invocation, regardless of transport.
type Session interface {
	// Frames streams decoded transcript frames; it is closed when the
	// agent process/connection ends.
	Frames() <-chan Frame
	// RequestStop asks the agent to wrap up (used on a handoff before the
	// runtime gives up on this session). Transports that can't signal this
	// gracefully may no-op.
	RequestStop(ctx context.Context) error
	// Wait blocks until the underlying process/connection has fully
	// terminated and returns its exit code (0 for transports with no
	// concept of one) and any transport-level error.
	Wait() (exitCode int, err error)
}

// AgentTransport starts a session for one request.
type AgentTransport interface {
	Start(ctx context.Context, req Request) (Session, error)
}

// Options configures one Run call.
type Options struct {
	StallTimeout        time.Duration // default 5 minutes
	HardTimeout         time.Duration // default 30 minutes
	ContextWindowTokens int64         // model's context window, for the usage estimate
	ContextThreshold    float64       // default 0.70
}

// DefaultOptions returns spec-compliant defaults, leaving
// ContextWindowTokens at 0 (callers must set it per model to get a context
// estimate; a zero window disables the handoff-on-context-budget check).
func DefaultOptions() Options {
	return Options{
		StallTimeout:     5 * time.Minute,
		HardTimeout:      30 * time.Minute,
		ContextThreshold: 0.70,
	}
}

// Result is the terminal outcome of one Run call.
type Result struct {
	Outcome                types.SessionOutcome
	Turns                  int
	Usage                  types.Usage
	CompletionSeen         bool
	AcceptanceCriteriaSeen []string
	HandoffNotes           string
	ExitCode               *int
	Err                    error
}

// Run drives one session to completion, invoking onEvent for every frame
// observed (including the frames that decide the terminal outcome).
func Run(ctx context.Context, transport AgentTransport, req Request, opts Options, onEvent func(Frame)) Result {
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = 5 * time.Minute
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = 30 * time.Minute
	}
	if opts.ContextThreshold <= 0 {
		opts.ContextThreshold = 0.70
	}
	if onEvent == nil {
		onEvent = func(Frame) {}
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.HardTimeout)
	defer cancel()

	session, err := transport.Start(runCtx, req)
	if err != nil {
		return Result{Outcome: types.OutcomeAgentCrash, Err: err}
	}

	stallTimer := time.NewTimer(opts.StallTimeout)
	defer stallTimer.Stop()

	var res Result

	for {
		select {
		case <-runCtx.Done():
			_ = session.RequestStop(context.Background())
			exitCode, waitErr := session.Wait()
			res.ExitCode = &exitCode
			if errors.Is(ctx.Err(), context.Canceled) {
				res.Outcome = types.OutcomeCancelled
			} else {
				res.Outcome = types.OutcomeTimeout
			}
			res.Err = waitErr
			return res

		case <-stallTimer.C:
			_ = session.RequestStop(context.Background())
			exitCode, waitErr := session.Wait()
			res.ExitCode = &exitCode
			res.Outcome = types.OutcomeStalled
			res.Err = waitErr
			return res

		case frame, ok := <-session.Frames():
			if !ok {
				exitCode, waitErr := session.Wait()
				res.ExitCode = &exitCode
				if res.CompletionSeen {
					res.Outcome = types.OutcomeSuccess
				} else {
					res.Outcome = types.OutcomeAgentCrash
					res.Err = waitErr
				}
				return res
			}

			if !stallTimer.Stop() {
				select {
				case <-stallTimer.C:
				default:
				}
			}
			stallTimer.Reset(opts.StallTimeout)

			if frame.Kind == FrameUsageUpdate && frame.Usage != nil && opts.ContextWindowTokens > 0 {
				frame.ContextUsagePct = float64(frame.Usage.ContextTokens) / float64(opts.ContextWindowTokens)
			}

			onEvent(frame)

			switch frame.Kind {
			case FrameMessage:
				if frame.Role == "assistant" {
					res.Turns++
				}
			case FrameUsageUpdate:
				if frame.Usage != nil {
					res.Usage = *frame.Usage
					if opts.ContextWindowTokens > 0 {
						if frame.ContextUsagePct >= opts.ContextThreshold {
							_ = session.RequestStop(context.Background())
							exitCode, waitErr := session.Wait()
							res.ExitCode = &exitCode
							res.Outcome = types.OutcomeHandoff
							res.HandoffNotes = frame.Text
							res.Err = waitErr
							return res
						}
					}
				}
			case FrameCompletionSignal:
				res.CompletionSeen = true
				res.AcceptanceCriteriaSeen = frame.AcceptanceCriteriaMet
			case FrameError:
				_ = session.RequestStop(context.Background())
				exitCode, waitErr := session.Wait()
				res.ExitCode = &exitCode
				res.Outcome = types.OutcomeAgentCrash
				if waitErr == nil {
					waitErr = errors.New(frame.Error)
				}
				res.Err = waitErr
				return res
			}
		}
	}
}
