package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/adaharness/ada/pkg/types"
)

// Load loads configuration from multiple sources, in priority order:
//  1. Global config (~/.config/ada/ada.json)
//  2. Project config (directory/.ada/ada.json or ada.jsonc)
//  3. Environment variables
func Load(directory string) (*types.Config, error) {
	cfg := &types.Config{
		MaxSteps:              50,
		MaxTurnTokens:         150000,
		SessionTimeoutSeconds: 1800,
		StallTimeoutSeconds:   300,
		MaxRetries:            3,
		Providers:             make(map[string]string),
	}

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "ada.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "ada.jsonc"), cfg)

	if directory != "" {
		_ = godotenv.Load(filepath.Join(directory, ".env"))
		loadConfigFile(filepath.Join(directory, ".ada", "ada.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".ada", "ada.jsonc"), cfg)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile merges a single config file into cfg. A missing file
// returns the read error; Load ignores every error from it.
func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	stripped := stripJSONComments(data)
	if !jsonc.Valid(stripped) {
		return fmt.Errorf("invalid config syntax in %s", path)
	}

	var fileConfig types.Config
	if err := json.Unmarshal(stripped, &fileConfig); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

var (
	singleLineComment = regexp.MustCompile(`//.*$`)
	multiLineComment  = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// stripJSONComments removes // and /* */ comments so the remaining document
// is plain JSON; jsonc.Valid then double-checks the result.
func stripJSONComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLineComment.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))
	return multiLineComment.ReplaceAll(data, nil)
}

// mergeConfig merges source into target, source values winning on conflict.
func mergeConfig(target, source *types.Config) {
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if len(source.AgentCommand) > 0 {
		target.AgentCommand = source.AgentCommand
	}
	if source.AgentEndpoint != "" {
		target.AgentEndpoint = source.AgentEndpoint
	}
	if source.MaxSteps > 0 {
		target.MaxSteps = source.MaxSteps
	}
	if source.MaxTurnTokens > 0 {
		target.MaxTurnTokens = source.MaxTurnTokens
	}
	if source.SessionTimeoutSeconds > 0 {
		target.SessionTimeoutSeconds = source.SessionTimeoutSeconds
	}
	if source.StallTimeoutSeconds > 0 {
		target.StallTimeoutSeconds = source.StallTimeoutSeconds
	}
	if source.MaxRetries > 0 {
		target.MaxRetries = source.MaxRetries
	}
	if len(source.Gates) > 0 {
		target.Gates = source.Gates
	}
	if source.Approval.RequireAll || len(source.Approval.AllowPatterns) > 0 {
		target.Approval = source.Approval
	}
	if source.Telemetry.Port > 0 {
		target.Telemetry.Port = source.Telemetry.Port
	}
	target.Telemetry.EnableCORS = target.Telemetry.EnableCORS || source.Telemetry.EnableCORS
	if source.Providers != nil {
		if target.Providers == nil {
			target.Providers = make(map[string]string)
		}
		for k, v := range source.Providers {
			target.Providers[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides, highest
// precedence source.
func applyEnvOverrides(cfg *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"google":    "GOOGLE_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if cfg.Providers == nil {
				cfg.Providers = make(map[string]string)
			}
			if cfg.Providers[provider] == "" {
				cfg.Providers[provider] = apiKey
			}
		}
	}

	if model := os.Getenv("ADA_MODEL"); model != "" {
		cfg.Model = model
	}
	if smallModel := os.Getenv("ADA_SMALL_MODEL"); smallModel != "" {
		cfg.SmallModel = smallModel
	}
	if endpoint := os.Getenv("ADA_AGENT_ENDPOINT"); endpoint != "" {
		cfg.AgentEndpoint = endpoint
	}
}

// Save writes the configuration to path atomically (temp file + rename).
func Save(cfg *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
