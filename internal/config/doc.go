// Package config provides configuration loading, merging, and path
// management for the harness.
//
// # Configuration loading
//
// Load implements a three-source merge, in priority order:
//
//  1. Global config (~/.config/ada/ada.json, XDG compliant)
//  2. Project config (.ada/ada.json / .ada/ada.jsonc, discovered at the
//     project root passed to Load)
//  3. Environment variables (highest precedence)
//
// An optional .env file at the project root is loaded with godotenv before
// environment overrides are applied, so provider credentials used by the
// verification pipeline's gate commands don't need to be exported manually.
//
// # Supported formats
//
// Both ada.json and ada.jsonc are accepted; jsonc comments are stripped
// before parsing and the stripped document is validated with
// github.com/tidwall/jsonc to catch malformed comment syntax early rather
// than surfacing a generic json.Unmarshal error.
//
// # Path management
//
// Paths follows the XDG Base Directory convention: Data
// (~/.local/share/ada), Config (~/.config/ada), Cache (~/.cache/ada), State
// (~/.local/state/ada).
package config
