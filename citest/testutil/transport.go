package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/adaharness/ada/internal/runtime"
	"github.com/adaharness/ada/pkg/types"
)

// Script is one scripted session: the ordered frames the fake agent emits,
// in order. Edit, if set, is applied before the first frame is sent,
// simulating the agent's file changes landing on disk ahead of whatever
// frame ends the session (completion, handoff, or error), so a consumer
// reacting to that frame never races the write. Block holds the frames
// channel open after the last frame until RequestStop is called (or ctx is
// cancelled), simulating an agent still mid-turn when a shutdown is
// requested.
type Script struct {
	Frames   []runtime.Frame
	Edit     func() error
	Block    bool
	StartErr error
	ExitCode int
}

// ScriptedTransport hands back one Script per call to Start, in the order
// supplied to NewScriptedTransport. A test supplies exactly as many
// scripts as it expects scheduler attempts; a call beyond the list fails
// loudly rather than silently looping, so a runaway retry shows up in the
// test failure instead of hanging.
type ScriptedTransport struct {
	mu      sync.Mutex
	scripts []Script
	calls   []runtime.Request
}

// NewScriptedTransport builds a transport that serves scripts in order.
func NewScriptedTransport(scripts ...Script) *ScriptedTransport {
	return &ScriptedTransport{scripts: scripts}
}

// Calls returns the requests observed so far, in call order.
func (t *ScriptedTransport) Calls() []runtime.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]runtime.Request, len(t.calls))
	copy(out, t.calls)
	return out
}

// Start implements runtime.AgentTransport.
func (t *ScriptedTransport) Start(ctx context.Context, req runtime.Request) (runtime.Session, error) {
	t.mu.Lock()
	idx := len(t.calls)
	t.calls = append(t.calls, req)
	if idx >= len(t.scripts) {
		t.mu.Unlock()
		return nil, errors.New("testutil: scripted transport has no script queued for this call")
	}
	script := t.scripts[idx]
	t.mu.Unlock()

	if script.StartErr != nil {
		return nil, script.StartErr
	}
	return newScriptedSession(script), nil
}

type scriptedSession struct {
	frames   chan runtime.Frame
	stopped  chan struct{}
	stopOnce sync.Once
	exitCode int
}

func newScriptedSession(script Script) *scriptedSession {
	s := &scriptedSession{
		frames:   make(chan runtime.Frame, len(script.Frames)+1),
		stopped:  make(chan struct{}),
		exitCode: script.ExitCode,
	}
	go func() {
		// Apply the simulated edit before any frame is sent, so it's
		// durably on disk (happens-before, via the channel send) by the
		// time the runtime reacts to the frame that ends the session --
		// not racing the scheduler's post-session commit against a
		// background goroutine still writing the file.
		if script.Edit != nil {
			_ = script.Edit()
		}
		for _, f := range script.Frames {
			s.frames <- f
		}
		if script.Block {
			<-s.stopped
		}
		close(s.frames)
	}()
	return s
}

func (s *scriptedSession) Frames() <-chan runtime.Frame { return s.frames }

func (s *scriptedSession) RequestStop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopped) })
	return nil
}

func (s *scriptedSession) Wait() (int, error) {
	return s.exitCode, nil
}

// MessageFrame builds a minimal assistant-message transcript frame.
func MessageFrame(text string) runtime.Frame {
	return runtime.Frame{Kind: runtime.FrameMessage, Role: "assistant", Text: text}
}

// CompletionFrame builds a completion-signal frame.
func CompletionFrame(criteria ...string) runtime.Frame {
	return runtime.Frame{Kind: runtime.FrameCompletionSignal, AcceptanceCriteriaMet: criteria}
}

// ErrorFrame builds an error frame carrying msg, the shape the runtime
// treats as an agent crash.
func ErrorFrame(msg string) runtime.Frame {
	return runtime.Frame{Kind: runtime.FrameError, Error: msg}
}

// UsageFrame builds a usage-update frame.
func UsageFrame(input, output, contextTokens int64, cost float64, cacheRead, cacheWrite int64) runtime.Frame {
	return runtime.Frame{
		Kind: runtime.FrameUsageUpdate,
		Usage: &types.Usage{
			InputTokens:      input,
			OutputTokens:     output,
			CacheReadTokens:  cacheRead,
			CacheWriteTokens: cacheWrite,
			ContextTokens:    contextTokens,
			EstimatedCostUSD: cost,
		},
	}
}
