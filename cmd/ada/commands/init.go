package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/adaharness/ada/internal/backlog"
	"github.com/adaharness/ada/internal/logging"
	"github.com/adaharness/ada/internal/project"
	"github.com/adaharness/ada/internal/storage"
	"github.com/adaharness/ada/pkg/types"
)

var initDir string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a new .ada/ project",
	Long: `Create a fresh .ada/ tree: project.json identifying the checkout, an empty
feature-list.json, and a pre-complete hook stub, so a directory can be
pointed at with 'ada serve' right away.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initDir, "directory", "", "Project working directory")
}

const preCompleteHookStub = `#!/bin/sh
# Runs after a feature's other gates pass and before it is marked complete.
# Receives ADA_PROJECT_ROOT, ADA_FEATURE_ID, ADA_FEATURE_NAME,
# ADA_FEATURE_CATEGORY in its environment. Exit non-zero to block.
exit 0
`

func runInit(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(initDir)
	if err != nil {
		return err
	}

	dotAda := filepath.Join(workDir, ".ada")
	if err := os.MkdirAll(filepath.Join(dotAda, "hooks"), 0755); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	info, err := project.FromDirectory(workDir)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	ctx := context.Background()
	fs := storage.New(dotAda)
	if err := fs.Put(ctx, []string{"project"}, info); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	backlogPath := filepath.Join(dotAda, "feature-list.json")
	if _, err := os.Stat(backlogPath); err == nil {
		logging.Info().Str("path", backlogPath).Msg("feature-list.json already exists, leaving as-is")
	} else {
		b := backlog.NewStore(dotAda)
		empty := &types.Backlog{Version: 1, Project: info.ID, Features: []types.Feature{}}
		if err := b.Save(ctx, empty); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}

	hookPath := filepath.Join(dotAda, "hooks", "pre-complete.sh")
	if _, err := os.Stat(hookPath); os.IsNotExist(err) {
		if err := os.WriteFile(hookPath, []byte(preCompleteHookStub), 0755); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}

	fmt.Printf("initialized ada project %q at %s\n", info.ID, dotAda)
	return nil
}
