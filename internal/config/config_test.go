package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaharness/ada/pkg/types"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpHome)
	t.Cleanup(func() { os.Setenv("HOME", oldHome) })
	return tmpHome
}

func TestLoadDefaults(t *testing.T) {
	isolateHome(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.MaxSteps)
	assert.Equal(t, 150000, cfg.MaxTurnTokens)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoadProjectConfig(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()

	config := `{
		"model": "anthropic/claude-sonnet-4-20250514",
		"max_retries": 5,
		"gates": [
			{"name": "lint", "command": "golangci-lint run"},
			{"name": "unit", "command": "go test ./..."}
		]
	}`

	configPath := filepath.Join(projectDir, ".ada", "ada.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, 5, cfg.MaxRetries)
	require.Len(t, cfg.Gates, 2)
	assert.Equal(t, "lint", cfg.Gates[0].Name)
}

func TestJSONCComments(t *testing.T) {
	isolateHome(t)
	projectDir := t.TempDir()

	jsoncConfig := `{
		// model override
		"model": "anthropic/claude-sonnet-4-20250514",
		/* multi
		   line */
		"max_retries": 2
	}`

	configPath := filepath.Join(projectDir, ".ada", "ada.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsoncConfig), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, 2, cfg.MaxRetries)
}

func TestConfigMergePriority(t *testing.T) {
	tmpHome := isolateHome(t)
	projectDir := t.TempDir()

	globalConfig := `{"model": "anthropic/claude-sonnet-4", "max_retries": 4}`
	globalDir := filepath.Join(tmpHome, ".config", "ada")
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "ada.json"), []byte(globalConfig), 0644))

	projectConfig := `{"model": "openai/gpt-4o"}`
	projectConfigDir := filepath.Join(projectDir, ".ada")
	require.NoError(t, os.MkdirAll(projectConfigDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(projectConfigDir, "ada.json"), []byte(projectConfig), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, 4, cfg.MaxRetries)
}

func TestEnvVarOverride(t *testing.T) {
	isolateHome(t)
	os.Setenv("ADA_MODEL", "env-model")
	defer os.Unsetenv("ADA_MODEL")

	projectDir := t.TempDir()
	config := `{"model": "file-model"}`
	configPath := filepath.Join(projectDir, ".ada", "ada.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Model)
}

func TestMergeConfigFunction(t *testing.T) {
	target := &types.Config{Model: "anthropic/claude-sonnet-4"}
	source := &types.Config{SmallModel: "anthropic/claude-3-5-haiku"}

	mergeConfig(target, source)

	assert.Equal(t, "anthropic/claude-sonnet-4", target.Model)
	assert.Equal(t, "anthropic/claude-3-5-haiku", target.SmallModel)
}

func TestApplyEnvOverridesFunction(t *testing.T) {
	os.Setenv("ADA_MODEL", "env-override-model")
	defer os.Unsetenv("ADA_MODEL")

	cfg := &types.Config{Model: "config-model"}
	applyEnvOverrides(cfg)

	assert.Equal(t, "env-override-model", cfg.Model)
}
