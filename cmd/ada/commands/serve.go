package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adaharness/ada/internal/alerts"
	"github.com/adaharness/ada/internal/backlog"
	"github.com/adaharness/ada/internal/checkpoint"
	"github.com/adaharness/ada/internal/config"
	"github.com/adaharness/ada/internal/logging"
	"github.com/adaharness/ada/internal/progress"
	"github.com/adaharness/ada/internal/retry"
	"github.com/adaharness/ada/internal/runtime"
	"github.com/adaharness/ada/internal/scheduler"
	"github.com/adaharness/ada/internal/sessionlog"
	"github.com/adaharness/ada/internal/telemetry"
	"github.com/adaharness/ada/internal/verify"
	"github.com/adaharness/ada/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
	noApprovalTTY bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the harness loop and its telemetry API",
	Long: `Start the scheduler loop (select a feature, run a session, verify, commit or
hand off, retry or block) alongside the read-only telemetry HTTP/websocket
API, until the backlog drains or the process receives SIGINT/SIGTERM.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 4317, "Telemetry API port")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Telemetry API hostname")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project working directory")
	serveCmd.Flags().BoolVar(&noApprovalTTY, "no-approval-prompt", false, "Auto-deny approval gates instead of prompting on stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting ada harness")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if model := GetGlobalModel(); model != "" {
		cfg.Model = model
	}

	dotAda := filepath.Join(workDir, ".ada")
	b := backlog.NewStore(dotAda)
	cp := checkpoint.NewStore(dotAda)
	p := progress.NewLog(dotAda)
	sl := sessionlog.NewLogger(dotAda)
	al := alerts.NewStore(dotAda)
	unsubAlerts := al.Subscribe()
	defer unsubAlerts()

	transport, err := buildTransport(cfg, workDir)
	if err != nil {
		return err
	}

	approve := interactiveApprover()
	if noApprovalTTY {
		approve = func(ctx context.Context, f *types.Feature) (bool, error) { return false, nil }
	}

	hc := scheduler.HarnessContext{
		WorkDir:     workDir,
		Config:      cfg,
		Transport:   transport,
		GateBuilder: gateBuilder(cfg),
		Approve:     approve,
		Logger:      logging.Logger,
		RetryPolicy: retryPolicyFor(cfg),
	}
	sched := scheduler.New(hc)

	telCfg := telemetry.DefaultConfig()
	telCfg.Port = servePort
	if cfg.Telemetry.Port != 0 {
		telCfg.Port = cfg.Telemetry.Port
	}
	telCfg.EnableCORS = cfg.Telemetry.EnableCORS
	telSrv := telemetry.New(telCfg, workDir, b, cp, p, sl, al, logging.Logger)
	unsubStatus := telSrv.Subscribe()
	defer unsubStatus()

	go func() {
		logging.Info().
			Str("hostname", serveHostname).
			Int("port", telCfg.Port).
			Str("url", fmt.Sprintf("http://%s:%d", serveHostname, telCfg.Port)).
			Msg("telemetry API listening")
		if err := telSrv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("telemetry API error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- sched.Run(ctx) }()

	var interrupted bool
	var runErr error
	select {
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutdown requested")
		sched.RequestShutdown(sig.String())
		runErr = <-runErrCh
		interrupted = true
	case err := <-runErrCh:
		runErr = err
		if err != nil {
			logging.Error().Err(err).Msg("scheduler stopped with error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := telSrv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("telemetry API shutdown error")
	}

	logging.Info().Msg("ada stopped")

	var preflightErr *scheduler.PreflightError
	switch {
	case errors.As(runErr, &preflightErr):
		return &ExitError{Code: 2, Err: runErr}
	case interrupted:
		return &ExitError{Code: 130}
	case runErr != nil:
		return &ExitError{Code: 1, Err: runErr}
	default:
		return nil
	}
}

// buildTransport picks a process or streaming agent transport from config,
// preferring an explicit command over an endpoint when both are set.
func buildTransport(cfg *types.Config, workDir string) (runtime.AgentTransport, error) {
	switch {
	case len(cfg.AgentCommand) > 0:
		return runtime.ProcessTransport{Command: cfg.AgentCommand, WorkDir: workDir}, nil
	case cfg.AgentEndpoint != "":
		return runtime.StreamTransport{URL: cfg.AgentEndpoint}, nil
	default:
		return nil, fmt.Errorf("no agent_command or agent_endpoint configured")
	}
}

// gateBuilder turns the project's configured gates into a per-feature gate
// list, resolving the approval gate's RequiresApproval from the config's
// approval policy (global require-all, or a doublestar allow-list) rather
// than leaving it to a static config flag.
func gateBuilder(cfg *types.Config) func(f *types.Feature) []verify.Gate {
	return func(f *types.Feature) []verify.Gate {
		gates := make([]verify.Gate, 0, len(cfg.Gates))
		for _, gc := range cfg.Gates {
			if verify.GateKind(gc.Name) == verify.GateApproval {
				gc.RequiresApproval = gc.RequiresApproval || backlog.MatchesApproval(cfg.Approval, f.ID)
			}
			gates = append(gates, verify.Gate{Kind: verify.GateKind(gc.Name), Config: gc, Feature: f})
		}
		return gates
	}
}

// interactiveApprover prompts on stdin for a manual approval gate; used
// when the harness runs attended rather than under --no-approval-prompt.
func interactiveApprover() verify.Approver {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, f *types.Feature) (bool, error) {
		fmt.Fprintf(os.Stdout, "Approve feature %q (%s)? [y/N]: ", f.Title, f.ID)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false, nil
		}
		switch line[:1] {
		case "y", "Y":
			return true, nil
		default:
			return false, nil
		}
	}
}

// retryPolicyFor overlays the project's max_retries onto the default
// per-category backoff curves.
func retryPolicyFor(cfg *types.Config) retry.Policy {
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	return policy
}
