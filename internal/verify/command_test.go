package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBash_Simple(t *testing.T) {
	commands, err := parseBash("ls -la")
	require.NoError(t, err)
	require.Len(t, commands, 1)
	assert.Equal(t, "ls", commands[0].Name)
	assert.Equal(t, []string{"-la"}, commands[0].Args)
}

func TestParseBash_AndChain(t *testing.T) {
	commands, err := parseBash("go vet ./... && go test ./...")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, "go", commands[0].Name)
	assert.Equal(t, "vet", commands[0].Subcommand)
	assert.Equal(t, "go", commands[1].Name)
	assert.Equal(t, "test", commands[1].Subcommand)
}

func TestParseBash_Pipeline(t *testing.T) {
	commands, err := parseBash("cat coverage.txt | grep total")
	require.NoError(t, err)
	require.Len(t, commands, 2)
	assert.Equal(t, "cat", commands[0].Name)
	assert.Equal(t, "grep", commands[1].Name)
}

func TestParseBash_SyntaxError(t *testing.T) {
	_, err := parseBash("echo 'unterminated")
	assert.Error(t, err)
}

func TestParseCommand_FlattensWords(t *testing.T) {
	words, err := ParseCommand("npm run lint")
	require.NoError(t, err)
	assert.Equal(t, []string{"npm", "run", "lint"}, words)
}
